// Package metrics exposes the settlement counters. Exposition is left to
// the embedding process; the default registry is used so any standard
// scrape surface picks these up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts per-chain transfer outcomes.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_transfers_total",
		Help: "Cross-chain transfer attempts by source chain and final status.",
	}, []string{"chain", "status"})

	// AttestationFeeRetries counts fee renegotiations triggered by a
	// parseable minimum-fee hint in a rejection.
	AttestationFeeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_attestation_fee_retries_total",
		Help: "Attestation submissions retried once with an adjusted fee.",
	})

	// MintedMicros accumulates successfully minted volume in USDC micros.
	MintedMicros = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_minted_micros_total",
		Help: "Minted USDC volume in base units by source chain.",
	}, []string{"chain"})
)
