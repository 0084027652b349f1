package chainrpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github/tokenvest/go-gateway/internal/gateway"
)

// Pool holds one Client per configured chain, keyed by chain tag.
type Pool struct {
	clients map[string]*Client
}

// NewPool dials every chain in the table. Chains whose endpoints are all
// unreachable fail construction; a coordinator without chain reads is
// misconfigured, not degraded.
func NewPool(chains []gateway.ChainDescriptor) (*Pool, error) {
	p := &Pool{clients: make(map[string]*Client, len(chains))}

	for _, chain := range chains {
		client, err := NewClient(chain.RPCURLs)
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "failed to connect chain %s", chain.ChainTag)
		}
		p.clients[chain.ChainTag] = client
	}

	return p, nil
}

// Close closes every chain's connections.
func (p *Pool) Close() {
	for _, client := range p.clients {
		client.Close()
	}
}

// Client returns the client for the chain tag, or nil.
func (p *Pool) Client(chainTag string) *Client {
	return p.clients[chainTag]
}

// TokenBalance reads an ERC20 balance on the given chain.
func (p *Pool) TokenBalance(ctx context.Context, chainTag string, token, account common.Address) (*big.Int, error) {
	client := p.clients[chainTag]
	if client == nil {
		return nil, errors.Errorf("no RPC client for chain %s", chainTag)
	}
	return client.TokenBalance(ctx, token, account)
}

// TokenAllowance reads an ERC20 allowance on the given chain. Satisfies
// the transfer orchestrator's allowance reader.
func (p *Pool) TokenAllowance(ctx context.Context, chainTag string, token, owner, spender common.Address) (*big.Int, error) {
	client := p.clients[chainTag]
	if client == nil {
		return nil, errors.Errorf("no RPC client for chain %s", chainTag)
	}
	return client.TokenAllowance(ctx, token, owner, spender)
}
