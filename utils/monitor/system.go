package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Gauge reports a value sampled on every tick, e.g. sandboxes in use
type Gauge func() float64

// SystemMonitor samples process health while a batch runs
type SystemMonitor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	interval time.Duration
	busy     Gauge
	metrics  struct {
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
		busy        prometheus.Gauge
	}
	wg sync.WaitGroup
}

// NewSystemMonitor registers its gauges on reg and starts sampling every
// interval until ctx is done or Cleanup is called. busy may be nil.
func NewSystemMonitor(ctx context.Context, reg prometheus.Registerer, namespace string, interval time.Duration, busy Gauge, logger *zap.Logger) (*SystemMonitor, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &SystemMonitor{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		interval: interval,
		busy:     busy,
	}

	factory := promauto.With(reg)
	m.metrics.goroutines = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
	m.metrics.heapObjects = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "heap_objects",
		Help:      "Current number of heap objects",
	})
	m.metrics.heapAlloc = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	m.metrics.gcPause = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "gc_pause_milliseconds",
		Help:      "Duration of the most recent GC pause",
	})
	m.metrics.busy = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "in_use",
		Help:      "Sandboxes currently leased to a run",
	})

	m.collectMetrics()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor()
	}()

	return m, nil
}

func (m *SystemMonitor) monitor() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collectMetrics()
		}
	}
}

func (m *SystemMonitor) collectMetrics() {
	snap := m.GetMetrics()
	m.metrics.goroutines.Set(snap["goroutines"])
	m.metrics.heapObjects.Set(snap["heap_objects"])
	m.metrics.heapAlloc.Set(snap["heap_alloc"])
	m.metrics.gcPause.Set(snap["gc_pause"])
	m.metrics.busy.Set(snap["sandboxes_in_use"])
}

// GetMetrics returns a fresh sample of every monitored value
func (m *SystemMonitor) GetMetrics() map[string]float64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	busy := 0.0
	if m.busy != nil {
		busy = m.busy()
	}

	return map[string]float64{
		"goroutines":       float64(runtime.NumGoroutine()),
		"heap_objects":     float64(memStats.HeapObjects),
		"heap_alloc":       float64(memStats.HeapAlloc),
		"gc_pause":         float64(memStats.PauseNs[(memStats.NumGC+255)%256]) / float64(time.Millisecond),
		"sandboxes_in_use": busy,
	}
}

// Summary logs the current sample, used when a batch finishes
func (m *SystemMonitor) Summary() {
	snap := m.GetMetrics()
	m.logger.Info("Process summary",
		zap.Float64("goroutines", snap["goroutines"]),
		zap.Float64("heap_alloc_bytes", snap["heap_alloc"]),
		zap.Float64("sandboxes_in_use", snap["sandboxes_in_use"]),
	)
}

// Cleanup stops sampling
func (m *SystemMonitor) Cleanup() error {
	m.cancel()
	m.wg.Wait()
	return nil
}
