package gas

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockPriceSource struct {
	price *uint256.Int
	err   error
	calls int
}

func (m *mockPriceSource) GasPrice(ctx context.Context) (*uint256.Int, error) {
	m.calls++
	return m.price, m.err
}

func TestEstimateGasCost(t *testing.T) {
	source := &mockPriceSource{price: uint256.NewInt(20_000_000_000)}
	est := NewEstimator(source, zaptest.NewLogger(t))

	assert.Nil(t, est.LastPrice())

	cost, err := est.EstimateGasCost(context.Background(), 100_000)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000", cost.String())
	assert.Equal(t, uint64(20_000_000_000), est.LastPrice().Uint64())
	assert.Equal(t, 1, source.calls)
}

func TestEstimateGasCostError(t *testing.T) {
	source := &mockPriceSource{err: errors.New("connection refused")}
	est := NewEstimator(source, zaptest.NewLogger(t))

	_, err := est.EstimateGasCost(context.Background(), 21000)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.err)
}

func TestCost(t *testing.T) {
	assert.Equal(t, int64(0), Cost(21000, nil).Int64())
	assert.Equal(t, int64(42000), Cost(21000, uint256.NewInt(2)).Int64())
}
