package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/michaelpento.lv/fuzztriage/optimizer"
	"github.com/michaelpento.lv/fuzztriage/simulator"
	"github.com/michaelpento.lv/fuzztriage/triage"
	"github.com/michaelpento.lv/fuzztriage/utils"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"github.com/michaelpento.lv/fuzztriage/utils/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workers     int
	maxTrials   int
	serveMetric bool
)

type optimized struct {
	*triage.Outcome
	Error string `json:"error,omitempty"`
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize <report>...",
	Short: "Replay reports on forked sandboxes and search for the best scale",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			cfg.Triage.Workers = workers
		}
		if cmd.Flags().Changed("max-trials") {
			cfg.Optimizer.MaxTrials = maxTrials
		}
		if serveMetric {
			cfg.Metrics.Enabled = true
		}
		if err := cfg.ValidateConfig(); err != nil {
			return err
		}

		reports, err := readReports(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		reg := metrics.Registry()
		ns := cfg.Metrics.Namespace

		pool, err := simulator.DialPool(ctx, cfg, metrics.NewSandboxMetrics(reg, ns), utils.Named("sandbox"))
		if err != nil {
			return err
		}
		defer pool.Close()

		opt, err := optimizer.NewOptimizer(cfg, metrics.NewOptimizerMetrics(reg, ns), utils.Named("optimizer"))
		if err != nil {
			return err
		}

		runner, err := triage.NewRunner(cfg, opt, pool, metrics.NewParserMetrics(reg, ns), log)
		if err != nil {
			return err
		}

		if cfg.Metrics.Enabled {
			stop := serveMetrics(cfg.Metrics.Addr, log)
			defer stop()

			mon, err := monitor.NewSystemMonitor(ctx, reg, ns, time.Second, func() float64 {
				return float64(pool.InUse())
			}, utils.Named("monitor"))
			if err != nil {
				return err
			}
			defer func() {
				mon.Summary()
				_ = mon.Cleanup()
			}()
		}

		log.Info("Starting triage",
			zap.Int("reports", len(reports)),
			zap.Int("sandboxes", pool.Size()),
		)

		outcomes := runner.RunBatch(ctx, reports)
		out := make([]optimized, len(outcomes))
		failed := 0
		for i, o := range outcomes {
			out[i] = optimized{Outcome: o, Error: errString(o.Err)}
			if o.Err != nil {
				failed++
			}
		}

		log.Info("Triage finished",
			zap.Int("reports", len(reports)),
			zap.Int("failed", failed),
		)

		return printJSON(cmd.OutOrStdout(), out)
	},
}

// serveMetrics exposes the process registry until the returned func is called
func serveMetrics(addr string, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	optimizeCmd.Flags().IntVar(&workers, "workers", 0, "reports triaged in parallel (capped by sandbox count)")
	optimizeCmd.Flags().IntVar(&maxTrials, "max-trials", 0, "trial budget per report")
	optimizeCmd.Flags().BoolVar(&serveMetric, "metrics", false, "serve Prometheus metrics while running")
	rootCmd.AddCommand(optimizeCmd)
}
