package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/optimizer"
	"github.com/michaelpento.lv/fuzztriage/parser"
	"github.com/michaelpento.lv/fuzztriage/simulator"
	"github.com/michaelpento.lv/fuzztriage/types"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"github.com/michaelpento.lv/fuzztriage/utils/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const noBlockReport = `[Fund Loss]: Anyone can earn 1 ETH
0x3333333333333333333333333333333333333333.withdraw()
`

func newTestRunner(t *testing.T, sandboxes ...simulator.Sandbox) (*Runner, *metrics.ParserMetrics) {
	cfg := config.DefaultConfig()
	cfg.Triage.Workers = 4
	return newConfiguredRunner(t, cfg, zaptest.NewLogger(t), sandboxes...)
}

func newConfiguredRunner(t *testing.T, cfg *config.Config, logger *zap.Logger, sandboxes ...simulator.Sandbox) (*Runner, *metrics.ParserMetrics) {
	reg := prometheus.NewRegistry()

	opt, err := optimizer.NewOptimizer(cfg, metrics.NewOptimizerMetrics(reg, "test"), logger)
	require.NoError(t, err)

	var pool *simulator.Pool
	if len(sandboxes) > 0 {
		pool, err = simulator.NewPool(sandboxes, logger)
		require.NoError(t, err)
	}

	m := metrics.NewParserMetrics(reg, "test")
	runner, err := NewRunner(cfg, opt, pool, m, logger)
	require.NoError(t, err)
	return runner, m
}

func newFake() *testutils.FakeSandbox {
	return testutils.NewFakeSandbox(testutils.Ether(1_000_000), testutils.ScaledPayout(0, 1, testutils.Ether(500), 0))
}

func TestAnalyze(t *testing.T) {
	runner, m := newTestRunner(t)

	analysis, err := runner.Analyze("pair.log", testutils.SwapDrainReport)
	require.NoError(t, err)
	assert.Equal(t, types.PatternSwapDrain, analysis.Pattern)
	assert.False(t, analysis.MultiStep)
	assert.True(t, analysis.Bounds.MaxScale.Equal(decimal.NewFromInt(100)))
	assert.Len(t, analysis.Summary(), 7)

	again, err := runner.Analyze("pair.log", testutils.SwapDrainReport)
	require.NoError(t, err)
	assert.Same(t, analysis, again)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reports.WithLabelValues("parsed")))
}

func TestAnalyzeErrors(t *testing.T) {
	runner, m := newTestRunner(t)

	_, err := runner.Analyze("clean.log", testutils.CleanReport)
	assert.ErrorIs(t, err, parser.ErrNoVulnerabilityFound)

	_, err = runner.Analyze("empty.log", testutils.EmptyTraceReport)
	assert.ErrorIs(t, err, parser.ErrMalformedTrace)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reports.WithLabelValues("no_vulnerability")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reports.WithLabelValues("malformed")))
}

func TestAnalyzeAll(t *testing.T) {
	runner, m := newTestRunner(t)

	analyses, err := runner.AnalyzeAll("multi.log", testutils.MultiFindingReport)
	require.NoError(t, err)
	require.Len(t, analyses, 2)
	assert.Equal(t, types.PatternApproveExploit, analyses[0].Pattern)
	assert.Equal(t, types.PatternOwnership, analyses[1].Pattern)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Reports.WithLabelValues("parsed")))
}

func TestRun(t *testing.T) {
	fake := newFake()
	runner, _ := newTestRunner(t, fake)

	out, err := runner.Run(context.Background(), "pair.log", testutils.SwapDrainReport)
	require.NoError(t, err)

	chain, block := fake.Forked()
	assert.Equal(t, "bsc", chain)
	assert.Equal(t, uint64(31000000), block)

	require.NotNil(t, out.Result)
	assert.Equal(t, "pair.log", out.Result.VulnerabilityID)
	assert.Equal(t, types.PatternSwapDrain, out.Result.Pattern)
	assert.Equal(t, 0, out.Result.BestProfitWei.Cmp(testutils.Ether(500)))
	assert.Zero(t, fake.OpenSnapshots())
}

func TestRunRefusesUnknownBlock(t *testing.T) {
	fake := newFake()
	runner, _ := newTestRunner(t, fake)

	out, err := runner.Run(context.Background(), "noblock.log", noBlockReport)
	assert.ErrorIs(t, err, ErrUnknownBlock)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, types.PatternDirectDrain, out.Analysis.Pattern)
	assert.Nil(t, out.Result)
	assert.Empty(t, fake.Replays())
}

func TestRunForkFailure(t *testing.T) {
	fake := newFake()
	fake.ForkErr = simulator.ErrForkUnavailable
	runner, _ := newTestRunner(t, fake)

	_, err := runner.Run(context.Background(), "pair.log", testutils.SwapDrainReport)
	assert.ErrorIs(t, err, simulator.ErrForkUnavailable)
	assert.ErrorIs(t, err, simulator.ErrSandboxUnavailable)
}

func TestRunWithoutPool(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := runner.Run(context.Background(), "pair.log", testutils.SwapDrainReport)
	assert.Error(t, err)
}

func TestRunBatch(t *testing.T) {
	a, b := newFake(), newFake()
	runner, _ := newTestRunner(t, a, b)

	reports := []Report{
		{Name: "pair.log", Text: testutils.SwapDrainReport},
		{Name: "clean.log", Text: testutils.CleanReport},
		{Name: "drain.log", Text: testutils.DirectDrainReport},
		{Name: "noblock.log", Text: noBlockReport},
	}

	outcomes := runner.RunBatch(context.Background(), reports)
	require.Len(t, outcomes, len(reports))

	for i, out := range outcomes {
		require.NotNil(t, out)
		assert.Equal(t, reports[i].Name, out.Name)
	}

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, types.PatternSwapDrain, outcomes[0].Result.Pattern)

	assert.True(t, errors.Is(outcomes[1].Err, parser.ErrNoVulnerabilityFound))
	assert.Nil(t, outcomes[1].Analysis)

	assert.NoError(t, outcomes[2].Err)
	assert.Equal(t, types.PatternDirectDrain, outcomes[2].Result.Pattern)
	assert.Len(t, outcomes[2].Result.Trials, 1)

	assert.ErrorIs(t, outcomes[3].Err, ErrUnknownBlock)

	assert.Zero(t, a.OpenSnapshots())
	assert.Zero(t, b.OpenSnapshots())
}

func TestRunBatchQuarantinesHungSandbox(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Triage.Workers = 4
	cfg.Optimizer.TrialTimeout = 10 * time.Millisecond
	cfg.Optimizer.RevertGrace = 20 * time.Millisecond

	fake := newFake()
	fake.BeforeReplay = testutils.Hang(300 * time.Millisecond)
	runner, _ := newConfiguredRunner(t, cfg, zap.NewNop(), fake)
	before := fake.StateHash()

	outcomes := runner.RunBatch(context.Background(), []Report{
		{Name: "pair.log", Text: testutils.SwapDrainReport},
		{Name: "drain.log", Text: testutils.DirectDrainReport},
	})
	require.Len(t, outcomes, 2)

	assert.ErrorIs(t, outcomes[0].Err, simulator.ErrSandboxUnavailable)
	assert.Contains(t, outcomes[0].Err.Error(), "still running")
	assert.ErrorIs(t, outcomes[1].Err, simulator.ErrSandboxUnavailable)
	assert.Contains(t, outcomes[1].Err.Error(), "quarantined")
	assert.Nil(t, outcomes[1].Result)

	assert.Zero(t, runner.pool.Healthy())
	assert.Zero(t, runner.pool.InUse())

	// only the abandoned trial ever touched the sandbox, and it cleans up
	assert.Eventually(t, func() bool {
		return fake.OpenSnapshots() == 0 && len(fake.Replays()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, before, fake.StateHash())
	chain, _ := fake.Forked()
	assert.Equal(t, "bsc", chain)
}

func TestRunBatchMovesOnToHealthySandbox(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Triage.Workers = 1
	cfg.Optimizer.TrialTimeout = 10 * time.Millisecond
	cfg.Optimizer.RevertGrace = 20 * time.Millisecond

	hung, healthy := newFake(), newFake()
	hung.BeforeReplay = testutils.Hang(300 * time.Millisecond)
	runner, _ := newConfiguredRunner(t, cfg, zap.NewNop(), hung, healthy)

	outcomes := runner.RunBatch(context.Background(), []Report{
		{Name: "pair.log", Text: testutils.SwapDrainReport},
		{Name: "again.log", Text: testutils.SwapDrainReport},
	})
	require.Len(t, outcomes, 2)

	assert.ErrorIs(t, outcomes[0].Err, simulator.ErrSandboxUnavailable)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, 0, outcomes[1].Result.BestProfitWei.Cmp(testutils.Ether(500)))

	assert.Equal(t, 1, runner.pool.Healthy())
	assert.NotEmpty(t, healthy.Replays())
	assert.Eventually(t, func() bool {
		return len(hung.Replays()) == 1 && hung.OpenSnapshots() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkers(t *testing.T) {
	runner, _ := newTestRunner(t, newFake(), newFake())
	assert.Equal(t, 2, runner.workers())

	runner.cfg.Triage.Workers = 1
	assert.Equal(t, 1, runner.workers())

	alone, _ := newTestRunner(t)
	alone.cfg.Triage.Workers = 0
	assert.Equal(t, 1, alone.workers())
}
