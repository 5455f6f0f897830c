package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"go.uber.org/zap"
)

// Pool hands out sandboxes so that no two concurrent runs share one.
// A quarantined sandbox never goes back into rotation.
type Pool struct {
	idle    chan Sandbox
	all     []Sandbox
	mu      sync.Mutex
	healthy int
	drained chan struct{}
	logger  *zap.Logger
}

// NewPool creates a new pool over already constructed sandboxes
func NewPool(sandboxes []Sandbox, logger *zap.Logger) (*Pool, error) {
	if len(sandboxes) == 0 {
		return nil, errors.New("pool requires at least one sandbox")
	}

	idle := make(chan Sandbox, len(sandboxes))
	for _, sb := range sandboxes {
		idle <- sb
	}

	return &Pool{
		idle:    idle,
		all:     sandboxes,
		healthy: len(sandboxes),
		drained: make(chan struct{}),
		logger:  logger,
	}, nil
}

// DialPool connects one Anvil sandbox per configured endpoint
func DialPool(ctx context.Context, cfg *config.Config, m *metrics.SandboxMetrics, logger *zap.Logger) (*Pool, error) {
	sandboxes := make([]Sandbox, 0, len(cfg.Sandbox.Endpoints))
	for _, endpoint := range cfg.Sandbox.Endpoints {
		sb, err := NewAnvilSandbox(ctx, endpoint, cfg, m, logger)
		if err != nil {
			for _, opened := range sandboxes {
				opened.(*AnvilSandbox).Close()
			}
			return nil, fmt.Errorf("failed to dial sandbox %s: %w", endpoint, err)
		}
		sandboxes = append(sandboxes, sb)
	}
	return NewPool(sandboxes, logger)
}

// Size returns the number of sandboxes in the pool
func (p *Pool) Size() int {
	return len(p.all)
}

// InUse returns the number of sandboxes currently leased
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy - len(p.idle)
}

// Healthy returns the number of sandboxes not quarantined
func (p *Pool) Healthy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// Acquire blocks until a sandbox is free or ctx is done. It fails with
// ErrSandboxUnavailable once every sandbox is quarantined.
func (p *Pool) Acquire(ctx context.Context) (Sandbox, error) {
	select {
	case sb := <-p.idle:
		return sb, nil
	case <-p.drained:
		return nil, fmt.Errorf("%w: every sandbox in the pool is quarantined", ErrSandboxUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Quarantine takes a leased sandbox out of rotation instead of releasing
// it. Used when a run aborted and the sandbox may still be executing or
// hold unreverted state.
func (p *Pool) Quarantine(sb Sandbox) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.healthy--
	p.logger.Warn("Quarantined sandbox", zap.Int("healthy", p.healthy))
	if p.healthy == 0 {
		close(p.drained)
	}
}

// Release returns a sandbox obtained from Acquire
func (p *Pool) Release(sb Sandbox) {
	select {
	case p.idle <- sb:
	default:
		p.logger.Warn("Released sandbox that does not belong to the pool")
	}
}

// Close closes every sandbox that holds a connection
func (p *Pool) Close() {
	for _, sb := range p.all {
		if c, ok := sb.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
