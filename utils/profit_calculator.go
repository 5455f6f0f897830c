package utils

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ProfitCalculator derives realized profit from sandbox balance readings
type ProfitCalculator struct{}

// NewProfitCalculator creates a new profit calculator
func NewProfitCalculator() *ProfitCalculator {
	return &ProfitCalculator{}
}

// NetProfit computes (final - initial) + valueSent - gasCost, where
// valueSent is the native value attached to the replayed sequence.
func (p *ProfitCalculator) NetProfit(initial, final *uint256.Int, valueSent, gasCost *big.Int) (*big.Int, error) {
	if initial == nil || final == nil {
		return nil, errors.New("balance readings are required")
	}
	if valueSent == nil || gasCost == nil {
		return nil, errors.New("invalid parameters")
	}

	profit := p.BalanceDelta(initial, final)
	profit.Add(profit, valueSent)
	profit.Sub(profit, gasCost)

	return profit, nil
}

// BalanceDelta returns final - initial as a signed value
func (p *ProfitCalculator) BalanceDelta(initial, final *uint256.Int) *big.Int {
	return new(big.Int).Sub(final.ToBig(), initial.ToBig())
}
