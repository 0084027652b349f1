// Package gateway holds the domain types shared by the settlement
// coordinator: chain descriptors, burn intents, and attestations.
package gateway

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SpecVersion is the burn intent wire version understood by the
// attestation service.
const SpecVersion uint32 = 1

// ChainDescriptor identifies a supported chain. The set is static and
// loaded from configuration at startup; DomainID and ChainTag form a
// bijection enforced at config validation time.
type ChainDescriptor struct {
	ChainTag            string
	DomainID            uint32
	USDCContract        common.Address
	RPCURLs             []string
	DefaultMaxFeeMicros *big.Int
}

// TransferSpec describes a single cross-chain movement of USDC.
// Address-typed fields are left-padded to 32 bytes before signing.
// Salt must be unique per intent, it is the replay guard on the
// attestation side and doubles as our idempotency key.
type TransferSpec struct {
	Version              uint32
	SourceDomain         uint32
	DestinationDomain    uint32
	SourceContract       common.Address
	DestinationContract  common.Address
	SourceToken          common.Address
	DestinationToken     common.Address
	SourceDepositor      common.Address
	DestinationRecipient common.Address
	SourceSigner         common.Address
	DestinationCaller    common.Address
	ValueMicros          *big.Int
	Salt                 [32]byte
	HookData             []byte
}

// BurnIntent is the unit of cross-chain transfer intent. Immutable once
// signed; a fee renegotiation produces a new intent with a fresh salt.
type BurnIntent struct {
	MaxBlockHeight *big.Int
	MaxFeeMicros   *big.Int
	Spec           TransferSpec
}

// Attestation is produced by the attestation service from a valid signed
// burn intent and consumed exactly once by the destination-chain mint.
type Attestation struct {
	TransferID        string
	Attestation       hexutil.Bytes
	OperatorSignature hexutil.Bytes
}

// ChainBalance is the deposited gateway balance on a single chain.
type ChainBalance struct {
	ChainTag string
	DomainID uint32
	Micros   *big.Int
}

// UnifiedBalance is the normalized view of deposited balances across all
// queried chains. PerChain preserves the caller's chain order and
// contains an entry for every requested chain, zero-valued when the
// balance service returned nothing for it.
type UnifiedBalance struct {
	TotalMicros *big.Int
	PerChain    []ChainBalance
}

// Balance returns the per-chain balance for tag, or zero if absent.
func (u *UnifiedBalance) Balance(tag string) *big.Int {
	for _, b := range u.PerChain {
		if b.ChainTag == tag {
			return b.Micros
		}
	}
	return big.NewInt(0)
}
