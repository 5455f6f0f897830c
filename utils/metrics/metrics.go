package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

// Registry returns the process-wide registry served on /metrics
func Registry() *prometheus.Registry {
	return registry
}

func registererOrDefault(reg prometheus.Registerer) prometheus.Registerer {
	if reg == nil {
		return registry
	}
	return reg
}

type ParserMetrics struct {
	Reports       *prometheus.CounterVec
	Transactions  prometheus.Histogram
	FallbackScans prometheus.Counter
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
}

func NewParserMetrics(reg prometheus.Registerer, namespace string) *ParserMetrics {
	factory := promauto.With(registererOrDefault(reg))
	return &ParserMetrics{
		Reports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "reports_total",
			Help:      "Total number of reports parsed, by outcome",
		}, []string{"outcome"}),
		Transactions: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "sequence_length",
			Help:      "Number of transactions recovered per report",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		FallbackScans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "fallback_scans_total",
			Help:      "Reports parsed without a delimited trace section",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "cache_hits_total",
			Help:      "Parse cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "cache_misses_total",
			Help:      "Parse cache misses",
		}),
	}
}

type OptimizerMetrics struct {
	Runs          *prometheus.CounterVec
	Patterns      *prometheus.CounterVec
	Trials        *prometheus.CounterVec
	TrialDuration prometheus.Histogram
	Timeouts      prometheus.Counter
	Aborts        prometheus.Counter
	Improvement   prometheus.Histogram
}

func NewOptimizerMetrics(reg prometheus.Registerer, namespace string) *OptimizerMetrics {
	factory := promauto.With(registererOrDefault(reg))
	return &OptimizerMetrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Completed optimization runs, by stop reason",
		}, []string{"stop_reason"}),
		Patterns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "patterns_total",
			Help:      "Optimization runs by exploit pattern",
		}, []string{"pattern"}),
		Trials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "trials_total",
			Help:      "Sandboxed trials, by phase and outcome",
		}, []string{"phase", "outcome"}),
		TrialDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "trial_duration_seconds",
			Help:      "Wall time of one snapshot/replay/revert cycle",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "trial_timeouts_total",
			Help:      "Trials that exceeded their deadline",
		}),
		Aborts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "aborts_total",
			Help:      "Runs aborted because the sandbox became unavailable",
		}),
		Improvement: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "improvement_ether",
			Help:      "Best minus baseline profit in ether",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		}),
	}
}

type SandboxMetrics struct {
	Calls   *prometheus.CounterVec
	Errors  *prometheus.CounterVec
	Latency *prometheus.HistogramVec
	GasUsed prometheus.Histogram
}

func NewSandboxMetrics(reg prometheus.Registerer, namespace string) *SandboxMetrics {
	factory := promauto.With(registererOrDefault(reg))
	return &SandboxMetrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "calls_total",
			Help:      "Sandbox RPC calls, by method",
		}, []string{"method"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "errors_total",
			Help:      "Sandbox RPC errors, by method",
		}, []string{"method"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "latency_seconds",
			Help:      "Sandbox RPC latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method"}),
		GasUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "replay_gas_used",
			Help:      "Gas used per replayed sequence",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 10),
		}),
	}
}
