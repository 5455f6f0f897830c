package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	assert.NotNil(t, Registry())
	assert.Equal(t, registry, registererOrDefault(nil))
}

func TestParserMetrics(t *testing.T) {
	metrics := NewParserMetrics(prometheus.NewRegistry(), "test_parser")
	assert.NotNil(t, metrics)

	metrics.Reports.WithLabelValues("parsed").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Reports.WithLabelValues("parsed")))

	metrics.CacheHits.Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CacheHits))

	metrics.Transactions.Observe(2)
	assert.NotNil(t, metrics.Transactions)
}

func TestOptimizerMetrics(t *testing.T) {
	metrics := NewOptimizerMetrics(prometheus.NewRegistry(), "test_optimizer")
	assert.NotNil(t, metrics)

	metrics.Trials.WithLabelValues("sweep", "success").Inc()
	metrics.Trials.WithLabelValues("sweep", "success").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Trials.WithLabelValues("sweep", "success")))

	metrics.Timeouts.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Timeouts))

	metrics.TrialDuration.Observe(0.2)
	assert.NotNil(t, metrics.TrialDuration)
}

func TestSandboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSandboxMetrics(reg, "test_sandbox")

	metrics.Calls.WithLabelValues("evm_snapshot").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Calls.WithLabelValues("evm_snapshot")))

	metrics.Latency.WithLabelValues("evm_snapshot").Observe(0.01)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Latency))

	// a second set on the same registry must collide
	assert.Panics(t, func() { NewSandboxMetrics(reg, "test_sandbox") })
}
