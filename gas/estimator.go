package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
	"go.uber.org/zap"
)

// PriceSource reports the gas price in effect for the next transaction
type PriceSource interface {
	GasPrice(ctx context.Context) (*uint256.Int, error)
}

// Estimator prices gas usage against a sandbox's gas price
type Estimator struct {
	source    PriceSource
	logger    *zap.Logger
	lastPrice *uint256.Int
	mu        sync.RWMutex
}

// NewEstimator creates a new gas estimator
func NewEstimator(source PriceSource, logger *zap.Logger) *Estimator {
	return &Estimator{
		source: source,
		logger: logger,
	}
}

// GasPrice fetches the current gas price and remembers it
func (e *Estimator) GasPrice(ctx context.Context) (*uint256.Int, error) {
	price, err := e.source.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	e.mu.Lock()
	e.lastPrice = new(uint256.Int).Set(price)
	e.mu.Unlock()

	return price, nil
}

// EstimateGasCost returns gasUsed * current gas price
func (e *Estimator) EstimateGasCost(ctx context.Context, gasUsed uint64) (*big.Int, error) {
	price, err := e.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	cost := Cost(gasUsed, price)
	e.logger.Debug("Estimated gas cost",
		zap.Uint64("gas_used", gasUsed),
		zap.String("gas_price", price.Dec()),
		zap.String("cost", cost.String()),
	)
	return cost, nil
}

// LastPrice returns the most recently fetched gas price, nil before the first fetch
func (e *Estimator) LastPrice() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastPrice == nil {
		return nil
	}
	return new(uint256.Int).Set(e.lastPrice)
}

// Cost calculates gasUsed * gasPrice
func Cost(gasUsed uint64, gasPrice *uint256.Int) *big.Int {
	if gasPrice == nil {
		return new(big.Int)
	}
	return weimath.MulUint64(gasPrice.ToBig(), gasUsed)
}
