package utils

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetProfit(t *testing.T) {
	calc := NewProfitCalculator()

	tests := []struct {
		name      string
		initial   uint64
		final     uint64
		valueSent int64
		gasCost   int64
		want      int64
	}{
		{"gain", 100, 150, 10, 5, 55},
		{"spent and lost", 100, 90, 10, 5, -5},
		{"break even", 100, 100, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.NetProfit(uint256.NewInt(tt.initial), uint256.NewInt(tt.final), big.NewInt(tt.valueSent), big.NewInt(tt.gasCost))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestNetProfitInvalidParameters(t *testing.T) {
	calc := NewProfitCalculator()

	_, err := calc.NetProfit(nil, uint256.NewInt(1), big.NewInt(0), big.NewInt(0))
	assert.Error(t, err)

	_, err = calc.NetProfit(uint256.NewInt(1), uint256.NewInt(1), nil, big.NewInt(0))
	assert.Error(t, err)
}

func TestBalanceDelta(t *testing.T) {
	calc := NewProfitCalculator()
	assert.Equal(t, int64(-3), calc.BalanceDelta(uint256.NewInt(5), uint256.NewInt(2)).Int64())
}
