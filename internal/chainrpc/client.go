// Package chainrpc provides read access to the configured EVM chains:
// ERC20 balances and allowances and raw contract calls, with failover
// across multiple RPC URLs per chain.
package chainrpc

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ERC20 method selectors.
var (
	balanceOfMethodID = common.Hex2Bytes("70a08231") // balanceOf(address)
	allowanceMethodID = common.Hex2Bytes("dd62ed3e") // allowance(address,address)
)

const abiPaddedLength = 32

// Client wraps one chain's RPC endpoints with lazy connection and
// failover: a failing endpoint rotates to the next configured URL.
type Client struct {
	urls    []string
	mu      sync.Mutex
	clients []*ethclient.Client
	current int
}

// NewClient connects to the first reachable URL. Unreachable endpoints
// are retried lazily on use instead of failing construction, so a
// temporarily down primary does not block startup.
func NewClient(urls []string) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := &Client{
		urls:    urls,
		clients: make([]*ethclient.Client, len(urls)),
	}

	connected := false
	for i, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().
				Str("url", url).
				Err(err).
				Msg("ChainRPC: failed to connect, will retry on use")
			continue
		}
		c.clients[i] = client
		connected = true
	}

	if !connected {
		return nil, errors.New("failed to connect to any RPC node")
	}

	return c, nil
}

// Close closes every open connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		if client != nil {
			client.Close()
		}
	}
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withFailover(ctx, func(client *ethclient.Client) error {
		var err error
		height, err = client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to get latest block number")
	}
	return height, nil
}

// CallContract performs an eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.withFailover(ctx, func(client *ethclient.Client) error {
		var err error
		out, err = client.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "contract call failed")
	}
	return out, nil
}

// TokenBalance reads the ERC20 balance of account on token.
func (c *Client) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data := make([]byte, 0, len(balanceOfMethodID)+abiPaddedLength)
	data = append(data, balanceOfMethodID...)
	data = append(data, common.LeftPadBytes(account.Bytes(), abiPaddedLength)...)

	resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "failed to call balanceOf")
	}

	return new(big.Int).SetBytes(resp), nil
}

// TokenAllowance reads the ERC20 allowance granted by owner to spender.
func (c *Client) TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data := make([]byte, 0, len(allowanceMethodID)+2*abiPaddedLength)
	data = append(data, allowanceMethodID...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), abiPaddedLength)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), abiPaddedLength)...)

	resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "failed to call allowance")
	}

	return new(big.Int).SetBytes(resp), nil
}

// withFailover runs fn against the current endpoint, rotating through
// the remaining URLs on failure. Endpoints that never connected are
// redialed before use.
func (c *Client) withFailover(ctx context.Context, fn func(*ethclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for i := 0; i < len(c.clients); i++ {
		idx := (c.current + i) % len(c.clients)

		if c.clients[idx] == nil {
			client, err := ethclient.Dial(c.urls[idx])
			if err != nil {
				lastErr = err
				continue
			}
			c.clients[idx] = client
		}

		if err := fn(c.clients[idx]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().
				Str("url", c.urls[idx]).
				Err(err).
				Msg("ChainRPC: endpoint failed, rotating")
			lastErr = err
			continue
		}

		c.current = idx
		return nil
	}

	return errors.Wrap(lastErr, "all RPC endpoints failed")
}
