package transfer_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/tokenvest/go-gateway/internal/gateway"
	"github/tokenvest/go-gateway/internal/gateway/signer"
	"github/tokenvest/go-gateway/internal/gateway/transfer"
	"github/tokenvest/go-gateway/internal/registry"
)

type fakeDirectory struct {
	wallets map[string]*registry.UserWallet
}

func (f *fakeDirectory) Wallet(_ context.Context, userID, role string) (*registry.UserWallet, error) {
	return f.wallets[userID+"/"+role], nil
}

type fakeBalances struct {
	byChain map[string]*big.Int
}

func (f *fakeBalances) UnifiedBalance(_ context.Context, _ common.Address, chains []gateway.ChainDescriptor) (*gateway.UnifiedBalance, error) {
	total := big.NewInt(0)
	perChain := make([]gateway.ChainBalance, 0, len(chains))
	for _, chain := range chains {
		micros, ok := f.byChain[chain.ChainTag]
		if !ok {
			micros = big.NewInt(0)
		}
		total.Add(total, micros)
		perChain = append(perChain, gateway.ChainBalance{
			ChainTag: chain.ChainTag,
			DomainID: chain.DomainID,
			Micros:   micros,
		})
	}
	return &gateway.UnifiedBalance{TotalMicros: total, PerChain: perChain}, nil
}

func investorWallet(chains ...string) *registry.UserWallet {
	cw := make(map[string]registry.ChainWallet, len(chains))
	for i, tag := range chains {
		id := "wallet-src"
		if tag == "base" {
			id = "wallet-dst"
		} else if i > 0 {
			id = "wallet-src2"
		}
		cw[tag] = registry.ChainWallet{WalletID: id, Address: "0x0000000000000000000000000000000000000011"}
	}
	return &registry.UserWallet{
		UserID:       "user-1",
		Role:         registry.RoleInvestor,
		ChainWallets: cw,
		State:        registry.StateLive,
	}
}

func newAggregateService(t *testing.T, sg *fakeSigner, at *fakeAttester, balances map[string]*big.Int, buffer *big.Int) transfer.Service {
	t.Helper()

	return newTestService(t, sg, at, func(o *transfer.Options) {
		o.Wallets = &fakeDirectory{wallets: map[string]*registry.UserWallet{
			"user-1/investor": investorWallet("ethereum", "base", "avalanche"),
		}}
		o.Balances = &fakeBalances{byChain: balances}
		o.BufferMicros = buffer
	})
}

func TestAggregateDrainsTwoChains(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{}
	svc := newAggregateService(t, sg, at, map[string]*big.Int{
		"ethereum":  micros(6),
		"avalanche": micros(4),
	}, big.NewInt(0))

	result, err := svc.TransferAggregate(context.Background(), &transfer.AggregateRequest{
		UserID:           "user-1",
		Role:             registry.RoleInvestor,
		DestinationChain: "base",
		AmountMicros:     micros(10),
	})
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, "ethereum", result.Records[0].SourceChain)
	assert.Equal(t, micros(6), result.Records[0].AttestedMicros)
	assert.Equal(t, "avalanche", result.Records[1].SourceChain)
	assert.Equal(t, micros(4), result.Records[1].AttestedMicros)

	assert.Equal(t, micros(10), result.TransferredMicros)
	assert.Equal(t, big.NewInt(0).String(), result.RemainingMicros.String())
}

func TestAggregateInsufficientFundsKeepsPartialSuccess(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{}
	svc := newAggregateService(t, sg, at, map[string]*big.Int{
		"ethereum": micros(3),
	}, nil) // default buffer of 1000 micros

	result, err := svc.TransferAggregate(context.Background(), &transfer.AggregateRequest{
		UserID:           "user-1",
		Role:             registry.RoleInvestor,
		DestinationChain: "base",
		AmountMicros:     micros(10),
	})

	var insufficient *transfer.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.NotNil(t, result)

	// 3 USDC available minus the 0.001 buffer was pulled and stays
	// committed; the rest is reported outstanding.
	require.Len(t, result.Records, 2)
	assert.Equal(t, transfer.StatusSuccess, result.Records[0].Status)
	assert.Equal(t, big.NewInt(2_999_000), result.Records[0].AttestedMicros)
	assert.Equal(t, transfer.StatusSkipped, result.Records[1].Status)

	assert.Equal(t, big.NewInt(2_999_000), result.TransferredMicros)
	assert.Equal(t, big.NewInt(7_001_000), result.RemainingMicros)
}

func TestAggregatePartialFailureIsolation(t *testing.T) {
	sg := newFakeSigner()
	// First mint completes, second fails on-chain.
	sg.outcomes = []string{signer.OpStateComplete, signer.OpStateFailed}
	at := &fakeAttester{}
	svc := newAggregateService(t, sg, at, map[string]*big.Int{
		"ethereum":  micros(6),
		"avalanche": micros(6),
	}, big.NewInt(0))

	result, err := svc.TransferAggregate(context.Background(), &transfer.AggregateRequest{
		UserID:           "user-1",
		Role:             registry.RoleInvestor,
		DestinationChain: "base",
		AmountMicros:     micros(10),
	})

	var insufficient *transfer.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)

	require.Len(t, result.Records, 2)
	assert.Equal(t, transfer.StatusSuccess, result.Records[0].Status)
	assert.Equal(t, transfer.StatusFailed, result.Records[1].Status)
	assert.NotEmpty(t, result.Records[1].Error)

	// The first chain's success is committed, only the failed chain's
	// portion is outstanding.
	assert.Equal(t, micros(6), result.TransferredMicros)
	assert.Equal(t, micros(4), result.RemainingMicros)
}

func TestAggregateConservation(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{}
	svc := newAggregateService(t, sg, at, map[string]*big.Int{
		"ethereum":  micros(2),
		"avalanche": micros(3),
	}, big.NewInt(0))

	result, err := svc.TransferAggregate(context.Background(), &transfer.AggregateRequest{
		UserID:           "user-1",
		Role:             registry.RoleInvestor,
		DestinationChain: "base",
		AmountMicros:     micros(9),
	})
	require.Error(t, err)

	sum := new(big.Int).Add(result.TransferredMicros, result.RemainingMicros)
	assert.Equal(t, result.RequestedMicros, sum)

	total := big.NewInt(0)
	for _, rec := range result.Records {
		if rec.Status == transfer.StatusSuccess {
			total.Add(total, rec.AttestedMicros)
		}
	}
	assert.Equal(t, result.TransferredMicros, total)
}

func TestAggregatePreferredSourceGoesFirst(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{}
	svc := newAggregateService(t, sg, at, map[string]*big.Int{
		"ethereum":  micros(10),
		"avalanche": micros(10),
	}, big.NewInt(0))

	result, err := svc.TransferAggregate(context.Background(), &transfer.AggregateRequest{
		UserID:           "user-1",
		Role:             registry.RoleInvestor,
		DestinationChain: "base",
		AmountMicros:     micros(5),
		PreferredSource:  "avalanche",
	})
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "avalanche", result.Records[0].SourceChain)
	assert.Equal(t, micros(5), result.Records[0].AttestedMicros)
}

func TestAggregateSkipsChainWithoutWallet(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{}
	svc := newTestService(t, sg, at, func(o *transfer.Options) {
		o.Wallets = &fakeDirectory{wallets: map[string]*registry.UserWallet{
			// No avalanche wallet.
			"user-1/investor": investorWallet("ethereum", "base"),
		}}
		o.Balances = &fakeBalances{byChain: map[string]*big.Int{
			"ethereum":  micros(2),
			"avalanche": micros(50),
		}}
		o.BufferMicros = big.NewInt(0)
	})

	result, err := svc.TransferAggregate(context.Background(), &transfer.AggregateRequest{
		UserID:           "user-1",
		Role:             registry.RoleInvestor,
		DestinationChain: "base",
		AmountMicros:     micros(10),
	})

	var insufficient *transfer.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)

	require.Len(t, result.Records, 2)
	assert.Equal(t, transfer.StatusSuccess, result.Records[0].Status)
	assert.Equal(t, transfer.StatusSkipped, result.Records[1].Status)
	assert.Equal(t, "avalanche", result.Records[1].SourceChain)
	assert.Contains(t, result.Records[1].SkipReason, "no wallet")
}

func TestAggregateValidation(t *testing.T) {
	svc := newAggregateService(t, newFakeSigner(), &fakeAttester{}, nil, nil)
	ctx := context.Background()

	_, err := svc.TransferAggregate(ctx, &transfer.AggregateRequest{
		UserID: "user-1", Role: registry.RoleInvestor,
		DestinationChain: "base", AmountMicros: big.NewInt(-1),
	})
	var verr *transfer.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.TransferAggregate(ctx, &transfer.AggregateRequest{
		UserID: "user-1", Role: registry.RoleInvestor,
		DestinationChain: "solana", AmountMicros: micros(1),
	})
	require.ErrorAs(t, err, &verr)

	_, err = svc.TransferAggregate(ctx, &transfer.AggregateRequest{
		UserID: "unknown", Role: registry.RoleInvestor,
		DestinationChain: "base", AmountMicros: micros(1),
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "no wallet registered")
}
