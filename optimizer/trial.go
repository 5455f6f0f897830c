package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/michaelpento.lv/fuzztriage/simulator"
	"github.com/michaelpento.lv/fuzztriage/types"
)

const timeoutReason = "timeout"

// trialOutcome is what one snapshot/replay/revert cycle produced. A non-nil
// err means the sandbox can no longer be trusted and the run must stop.
type trialOutcome struct {
	success bool
	profit  *big.Int
	gasUsed uint64
	reason  string
	err     error
}

func failed(reason string, gasUsed uint64) trialOutcome {
	return trialOutcome{profit: new(big.Int), gasUsed: gasUsed, reason: reason}
}

// runTrial executes seq under the per-trial deadline. Caller cancellation
// does not reach the trial, so an in-flight trial always finishes and
// reverts.
func (r *run) runTrial(seq []types.Transaction) trialOutcome {
	trialCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.o.cfg.TrialTimeout)
	defer cancel()

	done := make(chan trialOutcome, 1)
	go func() {
		done <- r.execute(trialCtx, seq)
	}()

	if out, ok := settle(done, trialCtx.Done()); ok {
		return out
	}

	// the sandbox gets a grace period to notice the deadline and revert
	grace := time.NewTimer(r.o.cfg.RevertGrace)
	defer grace.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return out
		}
		return failed(timeoutReason, out.gasUsed)
	case <-grace.C:
		return trialOutcome{err: fmt.Errorf("%w: trial still running %s after its deadline",
			simulator.ErrSandboxUnavailable, r.o.cfg.RevertGrace)}
	}
}

// settle waits for the trial or its deadline. A trial that is already
// finished when the deadline fires counts as finished.
func settle(done <-chan trialOutcome, deadline <-chan struct{}) (trialOutcome, bool) {
	select {
	case out := <-done:
		return out, true
	case <-deadline:
	}
	select {
	case out := <-done:
		return out, true
	default:
		return trialOutcome{}, false
	}
}

// execute is one snapshot -> measure -> replay -> measure -> revert cycle.
// The revert runs whatever happens before it and is detached from ctx.
func (r *run) execute(ctx context.Context, seq []types.Transaction) (out trialOutcome) {
	snap, err := r.sandbox.Snapshot(ctx)
	if err != nil {
		return sandboxFailure(ctx, "take snapshot", err)
	}
	defer func() {
		revertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cfg.RevertTimeout)
		defer cancel()
		if err := r.sandbox.Revert(revertCtx, snap); err != nil {
			out = trialOutcome{err: simulator.Unavailable("revert snapshot", err)}
		}
	}()

	initial, err := r.sandbox.BalanceOf(ctx, r.from)
	if err != nil {
		return sandboxFailure(ctx, "read initial balance", err)
	}

	res, err := r.sandbox.Replay(ctx, seq, r.from)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, simulator.ErrSandboxUnavailable) {
			return sandboxFailure(ctx, "replay", err)
		}
		return failed(err.Error(), 0)
	}
	if !res.Success {
		return failed(res.FailureReason, res.GasUsed)
	}

	final, err := r.sandbox.BalanceOf(ctx, r.from)
	if err != nil {
		return sandboxFailure(ctx, "read final balance", err)
	}

	gasCost, err := r.estimator.EstimateGasCost(ctx, res.GasUsed)
	if err != nil {
		return sandboxFailure(ctx, "price gas", err)
	}

	profit, err := r.o.calculator.NetProfit(initial, final, types.TotalValueWei(seq), gasCost)
	if err != nil {
		return trialOutcome{err: fmt.Errorf("failed to compute net profit: %w", err)}
	}

	return trialOutcome{success: true, profit: profit, gasUsed: res.GasUsed}
}

// sandboxFailure records a timeout when the trial deadline has passed and
// aborts the run otherwise
func sandboxFailure(ctx context.Context, op string, err error) trialOutcome {
	if ctx.Err() != nil {
		return failed(timeoutReason, 0)
	}
	return trialOutcome{err: simulator.Unavailable(op, err)}
}
