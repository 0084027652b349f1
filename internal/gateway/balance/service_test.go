package balance_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/tokenvest/go-gateway/internal/gateway"
	"github/tokenvest/go-gateway/internal/gateway/balance"
)

type fakeQuerier struct {
	balances []gateway.ChainBalance
	err      error
}

func (f *fakeQuerier) QueryBalances(_ context.Context, _ common.Address, _ []gateway.ChainDescriptor) ([]gateway.ChainBalance, error) {
	return f.balances, f.err
}

var testChains = []gateway.ChainDescriptor{
	{ChainTag: "ETH-SEPOLIA", DomainID: 0},
	{ChainTag: "AVAX-FUJI", DomainID: 1},
	{ChainTag: "BASE-SEPOLIA", DomainID: 6},
}

func TestUnifiedBalanceZeroFillsMissingChains(t *testing.T) {
	querier := &fakeQuerier{balances: []gateway.ChainBalance{
		{ChainTag: "BASE-SEPOLIA", DomainID: 6, Micros: big.NewInt(4_000_000)},
		{ChainTag: "ETH-SEPOLIA", DomainID: 0, Micros: big.NewInt(6_000_000)},
	}}

	svc := balance.NewService(querier)

	unified, err := svc.UnifiedBalance(context.Background(), common.Address{}, testChains)
	require.NoError(t, err)

	assert.Equal(t, int64(10_000_000), unified.TotalMicros.Int64())
	require.Len(t, unified.PerChain, 3)

	// Caller chain order is preserved, missing chain is zero.
	assert.Equal(t, "ETH-SEPOLIA", unified.PerChain[0].ChainTag)
	assert.Equal(t, int64(6_000_000), unified.PerChain[0].Micros.Int64())
	assert.Equal(t, "AVAX-FUJI", unified.PerChain[1].ChainTag)
	assert.Zero(t, unified.PerChain[1].Micros.Int64())
	assert.Equal(t, "BASE-SEPOLIA", unified.PerChain[2].ChainTag)
	assert.Equal(t, int64(4_000_000), unified.PerChain[2].Micros.Int64())
}

func TestUnifiedBalanceSumsDuplicateEntries(t *testing.T) {
	querier := &fakeQuerier{balances: []gateway.ChainBalance{
		{ChainTag: "ETH-SEPOLIA", DomainID: 0, Micros: big.NewInt(1_000_000)},
		{ChainTag: "ETH-SEPOLIA", DomainID: 0, Micros: big.NewInt(500_000)},
	}}

	svc := balance.NewService(querier)

	unified, err := svc.UnifiedBalance(context.Background(), common.Address{}, testChains[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), unified.TotalMicros.Int64())
}

func TestUnifiedBalanceRequiresChains(t *testing.T) {
	svc := balance.NewService(&fakeQuerier{})

	_, err := svc.UnifiedBalance(context.Background(), common.Address{}, nil)
	assert.Error(t, err)
}

func TestBalanceLookup(t *testing.T) {
	unified := &gateway.UnifiedBalance{
		TotalMicros: big.NewInt(5),
		PerChain: []gateway.ChainBalance{
			{ChainTag: "ETH-SEPOLIA", Micros: big.NewInt(5)},
		},
	}

	assert.Equal(t, int64(5), unified.Balance("ETH-SEPOLIA").Int64())
	assert.Zero(t, unified.Balance("UNKNOWN").Int64())
}
