// Package balance normalizes per-chain deposited gateway balances into a
// single unified view across chains.
package balance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/tokenvest/go-gateway/internal/gateway"
)

// Querier is the slice of the attestation client the aggregator needs.
type Querier interface {
	QueryBalances(ctx context.Context, depositor common.Address, chains []gateway.ChainDescriptor) ([]gateway.ChainBalance, error)
}

// Service aggregates deposited balances across chains.
type Service interface {
	// UnifiedBalance returns the deposited balance for every requested
	// chain, zero-filled for chains the balance service did not report,
	// preserving the requested chain order.
	UnifiedBalance(ctx context.Context, depositor common.Address, chains []gateway.ChainDescriptor) (*gateway.UnifiedBalance, error)
}

type service struct {
	querier Querier
}

// NewService creates a balance aggregator over the given querier.
//
//nolint:ireturn // Returning interface is intentional for DI
func NewService(querier Querier) Service {
	return &service{querier: querier}
}

func (s *service) UnifiedBalance(ctx context.Context, depositor common.Address, chains []gateway.ChainDescriptor) (*gateway.UnifiedBalance, error) {
	if len(chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}

	reported, err := s.querier.QueryBalances(ctx, depositor, chains)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query balances")
	}

	microsByTag := make(map[string]*big.Int, len(reported))
	for _, b := range reported {
		if existing, ok := microsByTag[b.ChainTag]; ok {
			// Duplicate entries for one domain are summed.
			microsByTag[b.ChainTag] = new(big.Int).Add(existing, b.Micros)
			continue
		}
		microsByTag[b.ChainTag] = b.Micros
	}

	total := big.NewInt(0)
	perChain := make([]gateway.ChainBalance, 0, len(chains))
	for _, chain := range chains {
		micros, ok := microsByTag[chain.ChainTag]
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

	log.Debug().
		Str("depositor", depositor.Hex()).
		Int("chains", len(chains)).
		Str("total_micros", total.String()).
		Msg("BalanceService: unified balance computed")

	return &gateway.UnifiedBalance{
		TotalMicros: total,
		PerChain:    perChain,
	}, nil
}
