package pattern

import (
	"math/big"

	"github.com/michaelpento.lv/fuzztriage/types"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
	"github.com/shopspring/decimal"
)

// Profit-multiplier ceilings used to size the search range. They are
// heuristics and never reported as observed profit.
var ceilings = map[types.Pattern]int64{
	types.PatternSwapDrain:      100,
	types.PatternSetupDrain:     100,
	types.PatternReentrancy:     10,
	types.PatternOwnership:      2,
	types.PatternApproveExploit: 50,
	types.PatternDirectDrain:    5,
	types.PatternUnknown:        5,
}

// Ceiling returns the profit-multiplier ceiling of p
func Ceiling(p types.Pattern) decimal.Decimal {
	if c, ok := ceilings[p]; ok {
		return decimal.NewFromInt(c)
	}
	return decimal.NewFromInt(ceilings[types.PatternUnknown])
}

// Bounds is the scale range worth searching for one vulnerability
type Bounds struct {
	MinScale decimal.Decimal
	MaxScale decimal.Decimal

	baseline *big.Int
	linear   bool
}

// Bound sizes the search range of a pattern. Expected profit scales
// linearly when the sequence spends native currency and stays flat for
// pure drains.
func Bound(p types.Pattern, baselineProfitWei, totalInputWei *big.Int) Bounds {
	baseline := new(big.Int)
	if baselineProfitWei != nil {
		baseline.Set(baselineProfitWei)
	}

	return Bounds{
		MinScale: decimal.NewFromInt(1),
		MaxScale: Ceiling(p),
		baseline: baseline,
		linear:   totalInputWei != nil && totalInputWei.Sign() > 0,
	}
}

// Linear reports whether expected profit grows with scale
func (b Bounds) Linear() bool {
	return b.linear
}

// Clamp limits scale to [MinScale, MaxScale]
func (b Bounds) Clamp(scale decimal.Decimal) decimal.Decimal {
	if scale.LessThan(b.MinScale) {
		return b.MinScale
	}
	if scale.GreaterThan(b.MaxScale) {
		return b.MaxScale
	}
	return scale
}

// ExpectedProfitAt estimates profit at scale, clamped to the bounds
func (b Bounds) ExpectedProfitAt(scale decimal.Decimal) *big.Int {
	if b.baseline == nil {
		return new(big.Int)
	}
	if !b.linear || b.baseline.Sign() <= 0 {
		return new(big.Int).Set(b.baseline)
	}
	return weimath.ScaleWei(b.baseline, b.Clamp(scale))
}

// Ceiling returns the expected profit at MaxScale
func (b Bounds) Ceiling() *big.Int {
	return b.ExpectedProfitAt(b.MaxScale)
}
