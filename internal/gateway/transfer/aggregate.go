package transfer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/tokenvest/go-gateway/internal/gateway"
	"github/tokenvest/go-gateway/internal/metrics"
	"github/tokenvest/go-gateway/internal/registry"
)

// TransferAggregate pulls the requested total from the candidate source
// chains in order, one at a time. A chain's failure never aborts its
// siblings; every considered chain gets a record. Successes stay
// committed even when the total cannot be met, the caller reconciles via
// the returned records.
func (s *service) TransferAggregate(ctx context.Context, req *AggregateRequest) (*AggregateResult, error) {
	if req.AmountMicros == nil || req.AmountMicros.Sign() <= 0 {
		return nil, &ValidationError{Reason: "amount must be positive"}
	}
	if _, ok := s.chains[req.DestinationChain]; !ok {
		return nil, &ValidationError{Reason: "unsupported destination chain " + req.DestinationChain}
	}
	if s.wallets == nil || s.balances == nil {
		return nil, errors.New("aggregation requires wallet directory and balance service")
	}

	wallet, err := s.wallets.Wallet(ctx, req.UserID, req.Role)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve user wallet")
	}
	if wallet == nil {
		return nil, &ValidationError{Reason: "no wallet registered for user " + req.UserID}
	}

	destWallet, ok := wallet.ChainWallets[req.DestinationChain]
	if !ok {
		return nil, &ValidationError{Reason: "no wallet configured on destination chain " + req.DestinationChain}
	}

	candidates := s.candidateChains(req)
	if len(candidates) == 0 {
		return nil, &ValidationError{Reason: "no candidate source chains"}
	}

	descriptors := make([]gateway.ChainDescriptor, 0, len(candidates))
	for _, tag := range candidates {
		descriptors = append(descriptors, s.chains[tag])
	}

	// Custodial EOA wallets share one depositor address across chains;
	// the first configured source wallet supplies it.
	depositor, haveDepositor := firstDepositor(wallet, candidates)

	result := &AggregateResult{
		RequestedMicros:   new(big.Int).Set(req.AmountMicros),
		TransferredMicros: big.NewInt(0),
		RemainingMicros:   new(big.Int).Set(req.AmountMicros),
	}

	var unified *gateway.UnifiedBalance
	if haveDepositor {
		unified, err = s.balances.UnifiedBalance(ctx, depositor, descriptors)
		if err != nil {
			return nil, errors.Wrap(err, "failed to query unified balance")
		}
	}

	for _, tag := range candidates {
		if result.RemainingMicros.Cmp(s.toleranceMicros) <= 0 {
			break
		}

		sourceWallet, configured := wallet.ChainWallets[tag]
		if !configured {
			result.Records = append(result.Records, s.skip(tag, "no wallet configured on chain"))
			continue
		}

		available := big.NewInt(0)
		if unified != nil {
			available = unified.Balance(tag)
		}
		if available.Cmp(s.bufferMicros) <= 0 {
			result.Records = append(result.Records, s.skip(tag, "balance at or under buffer"))
			continue
		}

		spendable := new(big.Int).Sub(available, s.bufferMicros)
		pull := new(big.Int).Set(result.RemainingMicros)
		if pull.Cmp(spendable) > 0 {
			pull.Set(spendable)
		}

		rec, transferErr := s.Transfer(ctx, &Request{
			SourceChain:         tag,
			DestinationChain:    req.DestinationChain,
			SourceWalletID:      sourceWallet.WalletID,
			DestinationWalletID: destWallet.WalletID,
			AmountMicros:        pull,
			AvailableMicros:     spendable,
		})
		result.Records = append(result.Records, rec)

		if transferErr != nil {
			// Captured in the record; siblings continue.
			log.Warn().
				Err(transferErr).
				Str("chain_tag", tag).
				Msg("TransferService: source chain failed during aggregation")
			continue
		}

		// Remaining is only decremented after the mint is confirmed.
		result.TransferredMicros.Add(result.TransferredMicros, rec.AttestedMicros)
		result.RemainingMicros.Sub(result.RemainingMicros, rec.AttestedMicros)
	}

	log.Info().
		Str("user_id", req.UserID).
		Str("requested_micros", result.RequestedMicros.String()).
		Str("transferred_micros", result.TransferredMicros.String()).
		Str("remaining_micros", result.RemainingMicros.String()).
		Int("chains", len(result.Records)).
		Msg("TransferService: aggregation finished")

	if result.RemainingMicros.Cmp(s.toleranceMicros) > 0 {
		return result, &InsufficientFundsError{Result: result}
	}

	return result, nil
}

func (s *service) candidateChains(req *AggregateRequest) []string {
	source := req.SourceChains
	if len(source) == 0 {
		source = s.chainOrder
	}

	candidates := make([]string, 0, len(source))
	if req.PreferredSource != "" && req.PreferredSource != req.DestinationChain {
		if _, ok := s.chains[req.PreferredSource]; ok {
			candidates = append(candidates, req.PreferredSource)
		}
	}

	for _, tag := range source {
		if tag == req.DestinationChain || tag == req.PreferredSource {
			continue
		}
		if _, ok := s.chains[tag]; !ok {
			continue
		}
		candidates = append(candidates, tag)
	}

	return candidates
}

func (s *service) skip(tag, reason string) *Record {
	rec := &Record{
		SourceChain: tag,
		Status:      StatusSkipped,
		SkipReason:  reason,
	}
	s.log(rec)
	metrics.TransfersTotal.WithLabelValues(tag, string(StatusSkipped)).Inc()
	return rec
}

func firstDepositor(wallet *registry.UserWallet, candidates []string) (common.Address, bool) {
	for _, tag := range candidates {
		if cw, ok := wallet.ChainWallets[tag]; ok && cw.Address != "" {
			return common.HexToAddress(cw.Address), true
		}
	}
	return common.Address{}, false
}
