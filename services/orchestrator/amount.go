package orchestrator

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the precision of every asset the contracts handle.
const Decimals = 6

var microScale = decimal.New(1, Decimals)

// ParseAmount converts a decimal string in whole units ("12.5") into
// micro-units. More than six fractional digits is an error, not a rounding.
func ParseAmount(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, invalid("amount required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, invalid("amount %q: %v", raw, err)
	}
	if !d.IsPositive() {
		return 0, invalid("amount %q must be positive", raw)
	}
	micro := d.Mul(microScale)
	if !micro.Equal(micro.Truncate(0)) {
		return 0, invalid("amount %q has more than %d decimals", raw, Decimals)
	}
	if micro.GreaterThan(fromUint64(math.MaxUint64)) {
		return 0, invalid("amount %q overflows", raw)
	}
	return micro.BigInt().Uint64(), nil
}

// FormatAmount renders micro-units as a whole-unit decimal string.
func FormatAmount(micro uint64) string {
	return fromUint64(micro).Div(microScale).StringFixed(Decimals)
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
