package units

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github/tokenvest/go-gateway/internal/gateway"
)

const (
	typedDataDomainName    = "GatewayWallet"
	typedDataDomainVersion = "1"

	primaryTypeBurnIntent = "BurnIntent"
	typeTransferSpec      = "TransferSpec"
)

// BuildBurnIntentTypedData assembles the EIP-712 structured document for a
// burn intent. Deterministic: identical input (including salt) always
// yields the identical document. Address fields are encoded bytes32,
// numeric and bytes fields are passed through untouched.
func BuildBurnIntentTypedData(intent *gateway.BurnIntent) (apitypes.TypedData, error) {
	if intent == nil {
		return apitypes.TypedData{}, errors.New("burn intent is nil")
	}
	if intent.Spec.ValueMicros == nil || intent.MaxBlockHeight == nil || intent.MaxFeeMicros == nil {
		return apitypes.TypedData{}, errors.New("burn intent has unset numeric fields")
	}

	spec := intent.Spec

	hookData := spec.HookData
	if hookData == nil {
		hookData = []byte{}
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			typeTransferSpec: {
				{Name: "version", Type: "uint32"},
				{Name: "sourceDomain", Type: "uint32"},
				{Name: "destinationDomain", Type: "uint32"},
				{Name: "sourceContract", Type: "bytes32"},
				{Name: "destinationContract", Type: "bytes32"},
				{Name: "sourceToken", Type: "bytes32"},
				{Name: "destinationToken", Type: "bytes32"},
				{Name: "sourceDepositor", Type: "bytes32"},
				{Name: "destinationRecipient", Type: "bytes32"},
				{Name: "sourceSigner", Type: "bytes32"},
				{Name: "destinationCaller", Type: "bytes32"},
				{Name: "value", Type: "uint256"},
				{Name: "salt", Type: "bytes32"},
				{Name: "hookData", Type: "bytes"},
			},
			primaryTypeBurnIntent: {
				{Name: "maxBlockHeight", Type: "uint256"},
				{Name: "maxFee", Type: "uint256"},
				{Name: "spec", Type: typeTransferSpec},
			},
		},
		PrimaryType: primaryTypeBurnIntent,
		Domain: apitypes.TypedDataDomain{
			Name:    typedDataDomainName,
			Version: typedDataDomainVersion,
		},
		Message: apitypes.TypedDataMessage{
			"maxBlockHeight": (*math.HexOrDecimal256)(intent.MaxBlockHeight),
			"maxFee":         (*math.HexOrDecimal256)(intent.MaxFeeMicros),
			"spec": map[string]interface{}{
				"version":              (*math.HexOrDecimal256)(intToBig(spec.Version)),
				"sourceDomain":         (*math.HexOrDecimal256)(intToBig(spec.SourceDomain)),
				"destinationDomain":    (*math.HexOrDecimal256)(intToBig(spec.DestinationDomain)),
				"sourceContract":       AddressToBytes32(spec.SourceContract).Hex(),
				"destinationContract":  AddressToBytes32(spec.DestinationContract).Hex(),
				"sourceToken":          AddressToBytes32(spec.SourceToken).Hex(),
				"destinationToken":     AddressToBytes32(spec.DestinationToken).Hex(),
				"sourceDepositor":      AddressToBytes32(spec.SourceDepositor).Hex(),
				"destinationRecipient": AddressToBytes32(spec.DestinationRecipient).Hex(),
				"sourceSigner":         AddressToBytes32(spec.SourceSigner).Hex(),
				"destinationCaller":    AddressToBytes32(spec.DestinationCaller).Hex(),
				"value":                (*math.HexOrDecimal256)(spec.ValueMicros),
				"salt":                 hexutil.Encode(spec.Salt[:]),
				"hookData":             hexutil.Encode(hookData),
			},
		},
	}, nil
}

func intToBig(v uint32) *big.Int {
	return new(big.Int).SetUint64(uint64(v))
}
