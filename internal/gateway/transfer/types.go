// Package transfer drives the cross-chain settlement protocol: building
// and signing burn intents, attesting them, and minting on the
// destination chain, plus the greedy multi-chain aggregation on top.
package transfer

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github/tokenvest/go-gateway/internal/gateway"
)

// Status of a per-chain transfer record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Record is the per-chain bookkeeping of one transfer attempt. It is
// created before the first external call of that chain so the salt can
// act as an idempotency key for resubmission detection.
type Record struct {
	SourceChain     string               `json:"sourceChain"`
	RequestedMicros *big.Int             `json:"requestedMicros"`
	AttestedMicros  *big.Int             `json:"attestedMicros,omitempty"`
	Attestation     *gateway.Attestation `json:"attestation,omitempty"`
	TransferID      string               `json:"transferId,omitempty"`
	MintOperationID string               `json:"mintOperationId,omitempty"`
	Salt            [32]byte             `json:"-"`
	SaltHex         string               `json:"salt,omitempty"`
	Status          Status               `json:"status"`
	SkipReason      string               `json:"skipReason,omitempty"`
	Err             error                `json:"-"`
	Error           string               `json:"error,omitempty"`
}

// Request describes a single-chain-pair transfer.
type Request struct {
	SourceChain         string
	DestinationChain    string
	SourceWalletID      string
	DestinationWalletID string

	// Recipient of the minted funds. Zero value means the destination
	// wallet's own address.
	Recipient common.Address

	AmountMicros *big.Int

	// MaxFeeMicros overrides the per-chain default fee table when set.
	MaxFeeMicros *big.Int

	// AvailableMicros bounds amount+fee during fee renegotiation. Nil
	// means no balance clamp is applied.
	AvailableMicros *big.Int

	// DepositFirst moves wallet USDC into the gateway custody contract
	// (approve + deposit) before building the burn intent.
	DepositFirst bool
}

// AggregateRequest asks for a target total to be pulled from multiple
// source chains into one destination chain.
type AggregateRequest struct {
	UserID           string
	Role             string
	DestinationChain string
	AmountMicros     *big.Int

	// SourceChains is the candidate order. Empty means every configured
	// chain except the destination, in configuration order.
	SourceChains []string

	// PreferredSource, when set, is consumed first.
	PreferredSource string
}

// AggregateResult is the outcome of a multi-chain aggregation. Records
// always contains every considered chain, success or not, so callers can
// reconcile partial completion.
type AggregateResult struct {
	Records           []*Record
	RequestedMicros   *big.Int
	TransferredMicros *big.Int
	RemainingMicros   *big.Int
}

// PollPolicy bounds an operation polling loop. MaxAttempts of zero means
// unbounded, used for mint confirmation where finality windows are not
// fixed.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// ValidationError rejects a request before any external call. Never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// SigningError indicates the custodial signer returned no usable
// signature. Surfaced to the caller, not retried automatically.
type SigningError struct {
	Chain string
	Cause error
}

func (e *SigningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signing failed on %s: %v", e.Chain, e.Cause)
	}
	return fmt.Sprintf("signing failed on %s: signer returned no signature", e.Chain)
}

func (e *SigningError) Unwrap() error { return e.Cause }

// MintError indicates the destination mint reached a failure terminal
// state or exhausted a bounded polling policy.
type MintError struct {
	Chain       string
	OperationID string
	State       string
	Reason      string
}

func (e *MintError) Error() string {
	return fmt.Sprintf("mint failed on %s (operation %s, state %s): %s",
		e.Chain, e.OperationID, e.State, e.Reason)
}

// InsufficientFundsError is returned when aggregation exhausts all
// candidate chains with funds still outstanding. Chains that already
// succeeded remain committed; the embedded result carries the full
// per-chain record list for reconciliation.
type InsufficientFundsError struct {
	Result *AggregateResult
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient aggregate funds: %s micros still outstanding after %d chains",
		e.Result.RemainingMicros.String(), len(e.Result.Records))
}
