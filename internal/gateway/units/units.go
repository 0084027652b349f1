// Package units converts between human-readable USDC amounts and
// 6-decimal base units, and builds the EIP-712 document for a burn intent.
package units

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// USDCDecimals is the number of fractional digits in USDC base units.
	USDCDecimals = 6

	addressByteLength = 20
	paddedByteLength  = 32
)

// ErrInvalidAddress is returned when an address is not exactly 20 bytes.
var ErrInvalidAddress = errors.New("invalid address: must be 20 bytes")

// ToMicros parses a decimal amount string into USDC base units.
// The canonical monetary rounding rule everywhere in this codebase is
// truncation to 6 fractional digits; every conversion path must funnel
// through here so a value can never diverge at the 7th digit.
func ToMicros(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse amount %q", amount)
	}

	if d.IsNegative() {
		return nil, errors.Errorf("amount must not be negative: %s", amount)
	}

	return d.Truncate(USDCDecimals).Shift(USDCDecimals).BigInt(), nil
}

// ToMicrosFloat converts a float amount through the same truncation rule
// as ToMicros.
func ToMicrosFloat(amount float64) (*big.Int, error) {
	return ToMicros(decimal.NewFromFloat(amount).String())
}

// FromMicros renders base units back into a decimal amount string.
func FromMicros(micros *big.Int) string {
	return decimal.NewFromBigInt(micros, -USDCDecimals).String()
}

// AddressToBytes32 left-pads a 20-byte address to a 32-byte value.
func AddressToBytes32(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), paddedByteLength))
}

// HexAddressToBytes32 validates a hex address string and left-pads it to
// 32 bytes. Fails with ErrInvalidAddress when the decoded length is not
// exactly 20 bytes.
func HexAddressToBytes32(addr string) (common.Hash, error) {
	raw, err := hexutil.Decode(addr)
	if err != nil {
		return common.Hash{}, errors.Wrapf(ErrInvalidAddress, "cannot decode %q", addr)
	}

	if len(raw) != addressByteLength {
		return common.Hash{}, errors.Wrapf(ErrInvalidAddress, "got %d bytes", len(raw))
	}

	return common.BytesToHash(common.LeftPadBytes(raw, paddedByteLength)), nil
}
