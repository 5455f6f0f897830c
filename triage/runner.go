package triage

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/optimizer"
	"github.com/michaelpento.lv/fuzztriage/parser"
	"github.com/michaelpento.lv/fuzztriage/pattern"
	"github.com/michaelpento.lv/fuzztriage/simulator"
	"github.com/michaelpento.lv/fuzztriage/types"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"go.uber.org/zap"
)

// ErrUnknownBlock is returned for reports that do not name a fork block
var ErrUnknownBlock = errors.New("report does not name a fork block")

// Analysis is everything known about a report before any replay
type Analysis struct {
	Vulnerability *types.Vulnerability `json:"vulnerability"`
	Pattern       types.Pattern        `json:"pattern"`
	MultiStep     bool                 `json:"multiStep"`
	Bounds        pattern.Bounds       `json:"-"`
}

// Outcome is the result of triaging one report
type Outcome struct {
	Name     string                    `json:"name"`
	Analysis *Analysis                 `json:"analysis,omitempty"`
	Result   *types.OptimizationResult `json:"result,omitempty"`
	Err      error                     `json:"-"`
}

// Runner wires parsing, classification and optimization together
type Runner struct {
	cfg       *config.Config
	parser    *parser.Parser
	optimizer *optimizer.Optimizer
	pool      *simulator.Pool
	cache     *lru.Cache
	metrics   *metrics.ParserMetrics
	logger    *zap.Logger
}

// NewRunner creates a new triage runner. pool may be nil for a runner
// that only analyzes reports.
func NewRunner(cfg *config.Config, opt *optimizer.Optimizer, pool *simulator.Pool, m *metrics.ParserMetrics, logger *zap.Logger) (*Runner, error) {
	if cfg == nil || m == nil || logger == nil {
		return nil, errors.New("config, metrics and logger are required")
	}

	cache, err := lru.New(cfg.Triage.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create parse cache: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		parser:    parser.NewParser(cfg, logger.Named("parser")),
		optimizer: opt,
		pool:      pool,
		cache:     cache,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Analyze parses the first finding of a report and classifies it
func (r *Runner) Analyze(name, text string) (*Analysis, error) {
	key := cacheKey(name, text)
	if cached, ok := r.cache.Get(key); ok {
		r.metrics.CacheHits.Inc()
		return cached.(*Analysis), nil
	}
	r.metrics.CacheMisses.Inc()

	vuln, err := r.parser.ParseReport(name, text)
	r.observeParse(vuln, err)
	if err != nil {
		return nil, err
	}

	analysis := analyze(vuln)
	r.cache.Add(key, analysis)
	return analysis, nil
}

// AnalyzeAll parses and classifies every finding of a report. Findings
// that fail to parse are reported in the joined error.
func (r *Runner) AnalyzeAll(name, text string) ([]*Analysis, error) {
	vulns, err := r.parser.ParseAll(name, text)
	if len(vulns) == 0 {
		r.observeParse(nil, err)
	}

	out := make([]*Analysis, 0, len(vulns))
	for _, v := range vulns {
		r.observeParse(v, nil)
		out = append(out, analyze(v))
	}
	return out, err
}

// Run triages one report end to end on a sandbox from the pool
func (r *Runner) Run(ctx context.Context, name, text string) (*Outcome, error) {
	out := &Outcome{Name: name}

	analysis, err := r.Analyze(name, text)
	if err != nil {
		out.Err = err
		return out, err
	}
	out.Analysis = analysis

	result, err := r.optimize(ctx, analysis)
	out.Result = result
	out.Err = err
	return out, err
}

func (r *Runner) optimize(ctx context.Context, analysis *Analysis) (*types.OptimizationResult, error) {
	vuln := analysis.Vulnerability
	if vuln.BlockNumber == 0 {
		return nil, fmt.Errorf("%s: %w", vuln.ID, ErrUnknownBlock)
	}
	if r.pool == nil || r.optimizer == nil {
		return nil, errors.New("runner has no sandbox pool")
	}

	sb, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sandbox: %w", err)
	}

	if err := sb.Fork(ctx, vuln.Chain, vuln.BlockNumber); err != nil {
		r.pool.Release(sb)
		return nil, fmt.Errorf("failed to fork %s at block %d: %w", vuln.Chain, vuln.BlockNumber, err)
	}

	result, err := r.optimizer.Optimize(ctx, vuln, analysis.Pattern, sb)
	if errors.Is(err, simulator.ErrSandboxUnavailable) {
		// a trial may still be replaying on sb
		r.pool.Quarantine(sb)
		return nil, err
	}
	r.pool.Release(sb)
	return result, err
}

func (r *Runner) observeParse(vuln *types.Vulnerability, err error) {
	switch {
	case err == nil && vuln != nil:
		r.metrics.Reports.WithLabelValues("parsed").Inc()
		r.metrics.Transactions.Observe(float64(len(vuln.Sequence)))
		if !vuln.TraceFound {
			r.metrics.FallbackScans.Inc()
		}
	case errors.Is(err, parser.ErrNoVulnerabilityFound):
		r.metrics.Reports.WithLabelValues("no_vulnerability").Inc()
	default:
		r.metrics.Reports.WithLabelValues("malformed").Inc()
		r.logger.Warn("Failed to parse report", zap.Error(err))
	}
}

func analyze(vuln *types.Vulnerability) *Analysis {
	p := pattern.Classify(vuln.Sequence)
	return &Analysis{
		Vulnerability: vuln,
		Pattern:       p,
		MultiStep:     pattern.IsMultiStep(vuln.Sequence),
		Bounds:        pattern.Bound(p, vuln.ReportedProfitWei, vuln.TotalInputWei()),
	}
}

func cacheKey(name, text string) string {
	return name + "@" + parser.Fingerprint(text)
}

// Summary returns the fields worth logging for an analysis
func (a *Analysis) Summary() []zap.Field {
	return []zap.Field{
		zap.String("id", a.Vulnerability.ID),
		zap.String("chain", a.Vulnerability.Chain),
		zap.Uint64("block", a.Vulnerability.BlockNumber),
		zap.Stringer("pattern", a.Pattern),
		zap.Bool("multi_step", a.MultiStep),
		zap.String("reported_profit", weimath.FormatEther(a.Vulnerability.ReportedProfitWei)),
		zap.Stringer("max_scale", a.Bounds.MaxScale),
	}
}
