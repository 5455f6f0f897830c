package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/gas"
	"github.com/michaelpento.lv/fuzztriage/pattern"
	"github.com/michaelpento.lv/fuzztriage/simulator"
	"github.com/michaelpento.lv/fuzztriage/types"
	"github.com/michaelpento.lv/fuzztriage/utils"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errTrialBudget = errors.New("trial budget exhausted")

	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// Optimizer searches for the scaling of an exploit sequence that
// maximizes realized net profit in a sandbox
type Optimizer struct {
	cfg        config.OptimizerConfig
	account    common.Address
	ladder     []decimal.Decimal
	precision  *big.Int
	calculator *utils.ProfitCalculator
	metrics    *metrics.OptimizerMetrics
	logger     *zap.Logger
}

// NewOptimizer creates a new extraction optimizer
func NewOptimizer(cfg *config.Config, m *metrics.OptimizerMetrics, logger *zap.Logger) (*Optimizer, error) {
	if cfg == nil || m == nil || logger == nil {
		return nil, errors.New("config, metrics and logger are required")
	}
	if err := cfg.Optimizer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}

	precision, err := cfg.Optimizer.PrecisionWei()
	if err != nil {
		return nil, err
	}

	return &Optimizer{
		cfg:        cfg.Optimizer,
		account:    cfg.Sandbox.AccountAddress(),
		ladder:     cfg.Optimizer.LadderFactors(),
		precision:  precision,
		calculator: utils.NewProfitCalculator(),
		metrics:    m,
		logger:     logger,
	}, nil
}

// candidate is the best scaling seen so far
type candidate struct {
	profit    *big.Int
	scale     decimal.Decimal
	txIndex   int
	confirmed bool
}

// run holds the state of one Optimize call
type run struct {
	o         *Optimizer
	ctx       context.Context
	vuln      *types.Vulnerability
	pattern   types.Pattern
	sandbox   simulator.Sandbox
	from      common.Address
	estimator *gas.Estimator
	bounds    pattern.Bounds
	logger    *zap.Logger

	trials   []types.Trial
	baseline types.Trial
	best     candidate
}

// Optimize replays vuln in sb at increasing scales and returns the full
// trial history. sb must already be forked at the vulnerability's block
// and is left in its pre-run state.
//
// Replay failures and timeouts are recorded as trials. An error is
// returned when the sandbox becomes unavailable, and when ctx is done, in
// which case the partial result is returned with it.
func (o *Optimizer) Optimize(ctx context.Context, vuln *types.Vulnerability, p types.Pattern, sb simulator.Sandbox) (*types.OptimizationResult, error) {
	if err := vuln.Validate(); err != nil {
		return nil, err
	}

	r := &run{
		o:         o,
		ctx:       ctx,
		vuln:      vuln,
		pattern:   p,
		sandbox:   sb,
		from:      o.replayAccount(sb, vuln),
		estimator: gas.NewEstimator(sb, o.logger),
		bounds:    pattern.Bound(p, nil, vuln.TotalInputWei()),
		logger: o.logger.With(
			zap.String("vulnerability", vuln.ID),
			zap.Stringer("pattern", p),
		),
		best: candidate{profit: new(big.Int), scale: one, txIndex: types.BaselineTxIndex},
	}

	r.logger.Info("Starting optimization",
		zap.Int("transactions", len(vuln.Sequence)),
		zap.String("from", r.from.Hex()),
		zap.String("total_input", weimath.FormatEther(vuln.TotalInputWei())),
	)
	o.metrics.Patterns.WithLabelValues(p.String()).Inc()

	err := r.search()
	stop := types.StopCompleted
	switch {
	case err == nil:
	case errors.Is(err, errTrialBudget):
		stop, err = types.StopTrialBudget, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		stop = types.StopCancelled
	default:
		o.metrics.Aborts.Inc()
		r.logger.Error("Optimization aborted", zap.Int("trials", len(r.trials)), zap.Error(err))
		return nil, err
	}

	result := r.result(stop)
	o.metrics.Runs.WithLabelValues(string(stop)).Inc()
	o.metrics.Improvement.Observe(weimath.EtherFloat(result.Improvement()))

	r.logger.Info("Optimization finished",
		zap.String("stop_reason", string(stop)),
		zap.Int("trials", len(result.Trials)),
		zap.Int("successful_trials", result.SuccessfulTrials()),
		zap.Bool("confirmed", result.Confirmed),
		zap.String("gas_price_wei", lastGasPrice(r.estimator)),
		zap.String("baseline_profit", weimath.FormatEther(result.BaselineProfitWei)),
		zap.String("best_profit", weimath.FormatEther(result.BestProfitWei)),
		zap.Stringer("best_scale", result.BestScaleFactor),
		zap.Int("best_tx", result.BestTxIndex),
	)

	return result, err
}

// replayAccount picks the sender of every trial: the sandbox's own funded
// account, then the configured one, then the report's sender
func (o *Optimizer) replayAccount(sb simulator.Sandbox, vuln *types.Vulnerability) common.Address {
	if ap, ok := sb.(simulator.AccountProvider); ok {
		if acct := ap.Account(); acct != (common.Address{}) {
			return acct
		}
	}
	if o.account != (common.Address{}) {
		return o.account
	}
	return vuln.Sender
}

func (r *run) search() error {
	baseline, err := r.next(types.PhaseBaseline, types.BaselineTxIndex, one)
	if err != nil {
		return err
	}
	r.baseline = baseline
	r.bounds = pattern.Bound(r.pattern, baseline.NetProfitWei, r.vuln.TotalInputWei())

	if err := r.sweep(); err != nil {
		return err
	}
	return r.refine()
}

// sweep walks the ladder for every swap that spends native currency,
// scaling one transaction at a time
func (r *run) sweep() error {
	for i := range r.vuln.Sequence {
		tx := &r.vuln.Sequence[i]
		if tx.Kind != types.TxKindSwap || !tx.HasValue() {
			continue
		}

		breaker := newFailureBreaker(r.o.cfg.MaxConsecutiveFailures)
		for _, scale := range r.rungs() {
			// the baseline already measured the unscaled sequence
			if scale.Equal(one) {
				continue
			}

			trial, err := r.next(types.PhaseSweep, i, scale)
			if err != nil {
				return err
			}
			if breaker.Record(trial.Success) {
				r.logger.Debug("Abandoning sweep after consecutive failures",
					zap.Int("tx", i),
					zap.Stringer("scale", scale),
				)
				break
			}
		}
	}
	return nil
}

// refine bisects around the best rung of the sweep until the bracket is
// narrower than the configured precision
func (r *run) refine() error {
	txIndex := r.best.txIndex
	if txIndex < 0 {
		return nil
	}
	value := r.vuln.Sequence[txIndex].Value()

	center := r.best.scale
	lo, hi := center, center
	rungs := r.rungs()
	for k, rung := range rungs {
		if !rung.Equal(center) {
			continue
		}
		if k > 0 {
			lo = rungs[k-1]
		}
		if k+1 < len(rungs) {
			hi = rungs[k+1]
		}
	}

	breaker := newFailureBreaker(r.o.cfg.MaxConsecutiveFailures)
	for r.wide(value, lo, hi) {
		left, right := lo, hi
		var probes []decimal.Decimal
		if r.wide(value, lo, center) {
			left = lo.Add(center).Div(two)
			probes = append(probes, left)
		}
		if r.wide(value, center, hi) {
			right = center.Add(hi).Div(two)
			probes = append(probes, right)
		}
		if len(probes) == 0 {
			break
		}

		for _, scale := range probes {
			trial, err := r.next(types.PhaseRefine, txIndex, scale)
			if err != nil {
				return err
			}
			if breaker.Record(trial.Success) {
				r.logger.Debug("Abandoning refinement after consecutive failures", zap.Stringer("scale", scale))
				return nil
			}
		}

		switch {
		case r.best.scale.Equal(center):
			lo, hi = left, right
		case r.best.scale.LessThan(center):
			hi, center = center, r.best.scale
		default:
			lo, center = center, r.best.scale
		}
	}
	return nil
}

// next runs one trial unless the budget is spent or the caller cancelled
func (r *run) next(phase types.Phase, txIndex int, scale decimal.Decimal) (types.Trial, error) {
	if len(r.trials) >= r.o.cfg.MaxTrials {
		return types.Trial{}, errTrialBudget
	}
	if err := r.ctx.Err(); err != nil {
		return types.Trial{}, err
	}

	seq := r.vuln.CloneSequence()
	if txIndex >= 0 {
		tx := &r.vuln.Sequence[txIndex]
		seq[txIndex] = tx.WithValue(weimath.ScaleWei(tx.Value(), scale))
	}

	start := time.Now()
	out := r.runTrial(seq)
	r.o.metrics.TrialDuration.Observe(time.Since(start).Seconds())
	if out.err != nil {
		return types.Trial{}, out.err
	}

	trial := types.Trial{
		Index:         len(r.trials),
		Phase:         phase,
		TxIndex:       txIndex,
		ScaleFactor:   scale,
		Success:       out.success,
		NetProfitWei:  out.profit,
		GasUsed:       out.gasUsed,
		FailureReason: out.reason,
	}
	r.trials = append(r.trials, trial)
	r.consider(trial)

	outcome := "success"
	switch {
	case trial.FailureReason == timeoutReason:
		outcome = "timeout"
		r.o.metrics.Timeouts.Inc()
	case !trial.Success:
		outcome = "failure"
	}
	r.o.metrics.Trials.WithLabelValues(string(phase), outcome).Inc()

	r.logger.Debug("Trial finished",
		zap.Int("index", trial.Index),
		zap.String("phase", string(phase)),
		zap.Int("tx", txIndex),
		zap.Stringer("scale", scale),
		zap.Bool("success", trial.Success),
		zap.String("net_profit", weimath.FormatEther(trial.NetProfitWei)),
		zap.String("failure", trial.FailureReason),
	)

	return trial, nil
}

// consider promotes a successful trial to best. Ties go to the smaller
// scale factor, except that any successful trial replaces a best no
// trial has confirmed yet.
func (r *run) consider(t types.Trial) {
	if !t.Success {
		return
	}
	if t.Phase == types.PhaseBaseline {
		r.best = candidate{profit: t.NetProfitWei, scale: one, txIndex: types.BaselineTxIndex, confirmed: true}
		return
	}

	cmp := t.NetProfitWei.Cmp(r.best.profit)
	if cmp > 0 || (cmp == 0 && (!r.best.confirmed || t.ScaleFactor.LessThan(r.best.scale))) {
		r.best = candidate{profit: t.NetProfitWei, scale: t.ScaleFactor, txIndex: t.TxIndex, confirmed: true}
	}
}

// rungs returns the ladder within the pattern's scale bounds
func (r *run) rungs() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(r.o.ladder))
	for _, rung := range r.o.ladder {
		if rung.LessThan(r.bounds.MinScale) || rung.GreaterThan(r.bounds.MaxScale) {
			continue
		}
		out = append(out, rung)
	}
	return out
}

// wide reports whether scaling value across [lo, hi] still moves it by at
// least the precision
func (r *run) wide(value *big.Int, lo, hi decimal.Decimal) bool {
	return weimath.ScaleWei(value, hi.Sub(lo)).Cmp(r.o.precision) >= 0
}

func lastGasPrice(e *gas.Estimator) string {
	if price := e.LastPrice(); price != nil {
		return price.Dec()
	}
	return ""
}

func (r *run) result(stop types.StopReason) *types.OptimizationResult {
	baselineProfit := new(big.Int)
	if r.baseline.Success {
		baselineProfit.Set(r.baseline.NetProfitWei)
	}

	trials := make([]types.Trial, len(r.trials))
	copy(trials, r.trials)

	return &types.OptimizationResult{
		RunID:             uuid.New(),
		VulnerabilityID:   r.vuln.ID,
		Pattern:           r.pattern,
		BaselineProfitWei: baselineProfit,
		BaselineSuccess:   r.baseline.Success,
		BestProfitWei:     new(big.Int).Set(r.best.profit),
		BestScaleFactor:   r.best.scale,
		BestTxIndex:       r.best.txIndex,
		Confirmed:         r.best.confirmed,
		CeilingProfitWei:  r.bounds.Ceiling(),
		StopReason:        stop,
		Trials:            trials,
	}
}
