// Package ledger adapts the on-chain investment ledger contracts:
// product reads, holdings and dividend queries via chain RPC, and
// subscription/dividend writes via the custodial signer.
package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/tokenvest/go-gateway/internal/gateway/signer"
)

// Write-path function signatures, executed under a custodial wallet.
const (
	subscribeSignature       = "subscribe(uint256,uint256)"
	declareDividendSignature = "declareDividend(uint256,uint256)"
	claimDividendSignature   = "claimDividend(uint256)"
)

// readABI covers the view functions the adapter needs. The full contract
// ABI is wider; only these selectors are packed here.
const readABI = `[
	{"name":"products","type":"function","stateMutability":"view",
	 "inputs":[{"name":"productId","type":"uint256"}],
	 "outputs":[
		{"name":"name","type":"string"},
		{"name":"unitPrice","type":"uint256"},
		{"name":"totalUnits","type":"uint256"},
		{"name":"active","type":"bool"}]},
	{"name":"holdings","type":"function","stateMutability":"view",
	 "inputs":[
		{"name":"productId","type":"uint256"},
		{"name":"investor","type":"address"}],
	 "outputs":[{"name":"units","type":"uint256"}]},
	{"name":"claimableDividend","type":"function","stateMutability":"view",
	 "inputs":[
		{"name":"productId","type":"uint256"},
		{"name":"investor","type":"address"}],
	 "outputs":[{"name":"amount","type":"uint256"}]}
]`

// Product is the on-chain product record.
type Product struct {
	ID              *big.Int
	Name            string
	UnitPriceMicros *big.Int
	TotalUnits      *big.Int
	Active          bool
}

// Caller is the slice of the chain RPC pool the adapter reads through.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Executor is the slice of the custodial signer the adapter writes
// through.
type Executor interface {
	CreateContractExecution(ctx context.Context, req *signer.ContractExecutionRequest) (string, error)
}

// Service reads and writes the investment ledger contracts.
type Service interface {
	// Product loads the product record.
	Product(ctx context.Context, chainTag string, productID *big.Int) (*Product, error)

	// Holdings returns the investor's unit balance in the product.
	Holdings(ctx context.Context, chainTag string, productID *big.Int, investor common.Address) (*big.Int, error)

	// ClaimableDividend returns the investor's unclaimed dividend in
	// USDC micros.
	ClaimableDividend(ctx context.Context, chainTag string, productID *big.Int, investor common.Address) (*big.Int, error)

	// Subscribe buys units under the investor's custodial wallet and
	// returns the pending operation id.
	Subscribe(ctx context.Context, chainTag, walletID string, productID, units *big.Int) (string, error)

	// DeclareDividend allocates a dividend pot to a product under the
	// issuer's custodial wallet.
	DeclareDividend(ctx context.Context, chainTag, walletID string, productID, amountMicros *big.Int) (string, error)

	// ClaimDividend claims the caller wallet's outstanding dividend.
	ClaimDividend(ctx context.Context, chainTag, walletID string, productID *big.Int) (string, error)
}

// Options wires the adapter.
type Options struct {
	// Contracts maps chain tag to the ledger contract address on that
	// chain.
	Contracts map[string]common.Address

	Callers  map[string]Caller
	Executor Executor
}

type service struct {
	contracts map[string]common.Address
	callers   map[string]Caller
	executor  Executor
	abi       abi.ABI
}

// NewService creates the ledger adapter.
//
//nolint:ireturn // Returning interface is intentional for DI
func NewService(opts Options) (Service, error) {
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if len(opts.Contracts) == 0 {
		return nil, errors.New("at least one ledger contract is required")
	}

	parsed, err := abi.JSON(strings.NewReader(readABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ledger ABI")
	}

	return &service{
		contracts: opts.Contracts,
		callers:   opts.Callers,
		executor:  opts.Executor,
		abi:       parsed,
	}, nil
}

func (s *service) Product(ctx context.Context, chainTag string, productID *big.Int) (*Product, error) {
	out, err := s.read(ctx, chainTag, "products", productID)
	if err != nil {
		return nil, err
	}

	product := &Product{ID: new(big.Int).Set(productID)}
	if err := unpackInto(out, &product.Name, &product.UnitPriceMicros, &product.TotalUnits, &product.Active); err != nil {
		return nil, errors.Wrap(err, "failed to decode product")
	}

	return product, nil
}

func (s *service) Holdings(ctx context.Context, chainTag string, productID *big.Int, investor common.Address) (*big.Int, error) {
	out, err := s.read(ctx, chainTag, "holdings", productID, investor)
	if err != nil {
		return nil, err
	}

	var units *big.Int
	if err := unpackInto(out, &units); err != nil {
		return nil, errors.Wrap(err, "failed to decode holdings")
	}
	return units, nil
}

func (s *service) ClaimableDividend(ctx context.Context, chainTag string, productID *big.Int, investor common.Address) (*big.Int, error) {
	out, err := s.read(ctx, chainTag, "claimableDividend", productID, investor)
	if err != nil {
		return nil, err
	}

	var amount *big.Int
	if err := unpackInto(out, &amount); err != nil {
		return nil, errors.Wrap(err, "failed to decode claimable dividend")
	}
	return amount, nil
}

func (s *service) Subscribe(ctx context.Context, chainTag, walletID string, productID, units *big.Int) (string, error) {
	return s.execute(ctx, chainTag, walletID, subscribeSignature, productID.String(), units.String())
}

func (s *service) DeclareDividend(ctx context.Context, chainTag, walletID string, productID, amountMicros *big.Int) (string, error) {
	return s.execute(ctx, chainTag, walletID, declareDividendSignature, productID.String(), amountMicros.String())
}

func (s *service) ClaimDividend(ctx context.Context, chainTag, walletID string, productID *big.Int) (string, error) {
	return s.execute(ctx, chainTag, walletID, claimDividendSignature, productID.String())
}

func (s *service) read(ctx context.Context, chainTag, method string, args ...interface{}) ([]interface{}, error) {
	contract, ok := s.contracts[chainTag]
	if !ok {
		return nil, errors.Errorf("no ledger contract configured on chain %s", chainTag)
	}

	caller, ok := s.callers[chainTag]
	if !ok || caller == nil {
		return nil, errors.Errorf("no RPC caller for chain %s", chainTag)
	}

	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s call", method)
	}

	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data})
	if err != nil {
		// Transient RPC failures propagate as-is; the caller decides
		// whether to retry.
		return nil, errors.Wrapf(err, "%s call failed on %s", method, chainTag)
	}

	out, err := s.abi.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", method)
	}

	return out, nil
}

func (s *service) execute(ctx context.Context, chainTag, walletID, signature string, params ...interface{}) (string, error) {
	contract, ok := s.contracts[chainTag]
	if !ok {
		return "", errors.Errorf("no ledger contract configured on chain %s", chainTag)
	}

	opID, err := s.executor.CreateContractExecution(ctx, &signer.ContractExecutionRequest{
		WalletID:          walletID,
		ContractAddress:   contract.Hex(),
		FunctionSignature: signature,
		Params:            params,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to submit %s", signature)
	}

	log.Info().
		Str("chain_tag", chainTag).
		Str("wallet_id", walletID).
		Str("function", signature).
		Str("operation_id", opID).
		Msg("LedgerService: contract execution submitted")

	return opID, nil
}

// unpackInto copies positional ABI outputs into typed destinations.
func unpackInto(out []interface{}, dests ...interface{}) error {
	if len(out) != len(dests) {
		return errors.Errorf("expected %d outputs, got %d", len(dests), len(out))
	}

	for i, dest := range dests {
		switch d := dest.(type) {
		case *string:
			v, ok := out[i].(string)
			if !ok {
				return errors.Errorf("output %d is not a string", i)
			}
			*d = v
		case **big.Int:
			v, ok := out[i].(*big.Int)
			if !ok {
				return errors.Errorf("output %d is not a uint256", i)
			}
			*d = v
		case *bool:
			v, ok := out[i].(bool)
			if !ok {
				return errors.Errorf("output %d is not a bool", i)
			}
			*d = v
		default:
			return errors.Errorf("unsupported destination type at output %d", i)
		}
	}

	return nil
}
