package ledger_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/tokenvest/go-gateway/internal/gateway/signer"
	"github/tokenvest/go-gateway/internal/ledger"
)

var (
	ledgerContract = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	investor       = common.HexToAddress("0x0000000000000000000000000000000000000011")
)

type fakeCaller struct {
	lastData []byte
	response []byte
	err      error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.lastData = msg.Data
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeExecutor struct {
	lastReq *signer.ContractExecutionRequest
	err     error
}

func (f *fakeExecutor) CreateContractExecution(_ context.Context, req *signer.ContractExecutionRequest) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return "op-1", nil
}

func newTestService(t *testing.T, caller *fakeCaller, exec *fakeExecutor) ledger.Service {
	t.Helper()

	svc, err := ledger.NewService(ledger.Options{
		Contracts: map[string]common.Address{"ethereum": ledgerContract},
		Callers:   map[string]ledger.Caller{"ethereum": caller},
		Executor:  exec,
	})
	require.NoError(t, err)
	return svc
}

func packOutputs(t *testing.T, types []string, values ...interface{}) []byte {
	t.Helper()

	args := make(abi.Arguments, 0, len(types))
	for _, typ := range types {
		parsed, err := abi.NewType(typ, "", nil)
		require.NoError(t, err)
		args = append(args, abi.Argument{Type: parsed})
	}

	raw, err := args.Pack(values...)
	require.NoError(t, err)
	return raw
}

func TestProductDecodesOnChainRecord(t *testing.T) {
	caller := &fakeCaller{
		response: packOutputs(t,
			[]string{"string", "uint256", "uint256", "bool"},
			"Series A Notes", big.NewInt(1_000_000), big.NewInt(5000), true),
	}
	svc := newTestService(t, caller, &fakeExecutor{})

	product, err := svc.Product(context.Background(), "ethereum", big.NewInt(7))
	require.NoError(t, err)

	assert.Equal(t, "Series A Notes", product.Name)
	assert.Equal(t, big.NewInt(1_000_000), product.UnitPriceMicros)
	assert.Equal(t, big.NewInt(5000), product.TotalUnits)
	assert.True(t, product.Active)
	assert.Equal(t, big.NewInt(7), product.ID)
}

func TestHoldingsAndClaimable(t *testing.T) {
	caller := &fakeCaller{
		response: packOutputs(t, []string{"uint256"}, big.NewInt(42)),
	}
	svc := newTestService(t, caller, &fakeExecutor{})

	units, err := svc.Holdings(context.Background(), "ethereum", big.NewInt(7), investor)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), units)

	caller.response = packOutputs(t, []string{"uint256"}, big.NewInt(1_250_000))
	amount, err := svc.ClaimableDividend(context.Background(), "ethereum", big.NewInt(7), investor)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_250_000), amount)
}

func TestReadPropagatesRPCFailure(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection refused")}
	svc := newTestService(t, caller, &fakeExecutor{})

	_, err := svc.Holdings(context.Background(), "ethereum", big.NewInt(7), investor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReadRejectsUnknownChain(t *testing.T) {
	svc := newTestService(t, &fakeCaller{}, &fakeExecutor{})

	_, err := svc.Product(context.Background(), "solana", big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ledger contract")
}

func TestSubscribeSubmitsContractExecution(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, &fakeCaller{}, exec)

	opID, err := svc.Subscribe(context.Background(), "ethereum", "wallet-1", big.NewInt(7), big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, "op-1", opID)

	require.NotNil(t, exec.lastReq)
	assert.Equal(t, "wallet-1", exec.lastReq.WalletID)
	assert.Equal(t, ledgerContract.Hex(), exec.lastReq.ContractAddress)
	assert.Equal(t, "subscribe(uint256,uint256)", exec.lastReq.FunctionSignature)
	assert.Equal(t, []interface{}{"7", "10"}, exec.lastReq.Params)
}

func TestDividendWrites(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, &fakeCaller{}, exec)

	_, err := svc.DeclareDividend(context.Background(), "ethereum", "wallet-issuer", big.NewInt(7), big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.Equal(t, "declareDividend(uint256,uint256)", exec.lastReq.FunctionSignature)

	_, err = svc.ClaimDividend(context.Background(), "ethereum", "wallet-1", big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, "claimDividend(uint256)", exec.lastReq.FunctionSignature)
	assert.Equal(t, []interface{}{"7"}, exec.lastReq.Params)
}
