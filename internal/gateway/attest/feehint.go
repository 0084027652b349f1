package attest

import (
	"math/big"
	"regexp"

	"github/tokenvest/go-gateway/internal/gateway/units"
)

// The attestation service embeds its minimum acceptable fee in a
// human-readable rejection message. This is a textual contract against an
// external service and brittle by nature, which is why the parsing lives
// behind this one function: an upstream wording change degrades to "no
// hint" instead of silently breaking the retry path.
var minFeePattern = regexp.MustCompile(`expected at least ([0-9]+(?:\.[0-9]+)?)`)

// MinFeeHint extracts the minimum-fee hint from a rejection body, in
// micros. The second return is false when no parseable hint is present;
// callers must then surface the raw rejection untouched.
func MinFeeHint(body string) (*big.Int, bool) {
	match := minFeePattern.FindStringSubmatch(body)
	if match == nil {
		return nil, false
	}

	micros, err := units.ToMicros(match[1])
	if err != nil {
		return nil, false
	}

	return micros, true
}
