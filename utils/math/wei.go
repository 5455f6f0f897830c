package math

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// 2^256 has 78 decimal digits
const maxWeiDigits = 78

// Decimal exponent of each amount unit that shows up in fuzzer traces
var unitExponents = map[string]int32{
	"wei":   0,
	"gwei":  9,
	"ether": 18,
	"eth":   18,
	"bnb":   18,
	"matic": 18,
}

// UnitExponent returns the decimal exponent of unit relative to wei
func UnitExponent(unit string) (int32, bool) {
	exp, ok := unitExponents[strings.ToLower(strings.TrimSpace(unit))]
	return exp, ok
}

// ToWei converts a plain decimal amount in the given unit to wei.
// Fractions below one wei are truncated. Exponent notation and results that
// do not fit in 256 bits are rejected.
func ToWei(amount, unit string) (*big.Int, error) {
	exp, ok := UnitExponent(unit)
	if !ok {
		return nil, fmt.Errorf("unknown unit %q", unit)
	}

	amount = strings.TrimSpace(amount)
	if strings.ContainsAny(amount, "eE") {
		return nil, fmt.Errorf("amount %q uses exponent notation", amount)
	}
	if intDigits := len(strings.TrimLeft(strings.SplitN(amount, ".", 2)[0], "+-0")); intDigits+int(exp) > maxWeiDigits {
		return nil, fmt.Errorf("amount %q %s exceeds 256 bits", amount, unit)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", amount)
	}

	wei := d.Shift(exp).Truncate(0).BigInt()
	if _, overflow := uint256.FromBig(wei); overflow {
		return nil, fmt.Errorf("amount %q %s exceeds 256 bits", amount, unit)
	}
	return wei, nil
}

// FormatEther renders wei as a decimal ether string
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// EtherFloat returns wei as an approximate ether float, for metrics only
func EtherFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -18).InexactFloat64()
}

// ScaleWei multiplies value by a rational factor and floors the result
func ScaleWei(value *big.Int, factor decimal.Decimal) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(value, 0).Mul(factor).Floor().BigInt()
}

// MulUint64 returns a*b without mutating either operand
func MulUint64(a *big.Int, b uint64) *big.Int {
	return new(big.Int).Mul(a, new(big.Int).SetUint64(b))
}
