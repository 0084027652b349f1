// Package signer talks to the external custodial signing service. The
// core never sees key material; it submits requests keyed by an opaque
// wallet id and polls the returned operation to a terminal state.
package signer

import (
	"context"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Operation states reported by the custodial signing service.
const (
	OpStateInitiated = "INITIATED"
	OpStateQueued    = "QUEUED"
	OpStateSent      = "SENT"
	OpStateConfirmed = "CONFIRMED"
	OpStateComplete  = "COMPLETE"
	OpStateFailed    = "FAILED"
	OpStateDenied    = "DENIED"
	OpStateCancelled = "CANCELLED"
)

// Operation is the polling view of a pending custodial request.
type Operation struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	TxHash        string `json:"txHash,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Terminal reports whether the operation has reached a final state.
func (o *Operation) Terminal() bool {
	switch o.State {
	case OpStateComplete, OpStateConfirmed, OpStateFailed, OpStateDenied, OpStateCancelled:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the operation reached a successful terminal
// state.
func (o *Operation) Succeeded() bool {
	return o.State == OpStateComplete || o.State == OpStateConfirmed
}

// Wallet is a custodial wallet handle. The id may be shared across chains
// for EOA-style wallets; the address is immutable once derived.
type Wallet struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Blockchain string `json:"blockchain,omitempty"`
}

// ContractExecutionRequest submits a contract call under a custodial
// wallet.
type ContractExecutionRequest struct {
	WalletID          string
	ContractAddress   string
	FunctionSignature string
	Params            []interface{}
	FeeLevel          string
}

// Service is the capability interface over the custodial signing service.
// Test doubles implement it to simulate every terminal operation state
// without a custody backend.
type Service interface {
	// CreateContractExecution submits a contract call and returns a
	// pending operation id.
	CreateContractExecution(ctx context.Context, req *ContractExecutionRequest) (string, error)

	// SignTypedData signs an EIP-712 document with the wallet's key.
	SignTypedData(ctx context.Context, walletID string, doc apitypes.TypedData) (string, error)

	// GetOperation returns the current state of a pending operation.
	GetOperation(ctx context.Context, operationID string) (*Operation, error)

	// GetWallet resolves a wallet id to its handle, including the address.
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)

	// ProvisionWallets requests new custodial wallets on the given chains.
	ProvisionWallets(ctx context.Context, chainTags []string) ([]*Wallet, error)
}
