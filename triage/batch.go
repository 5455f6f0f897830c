package triage

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report is one named fuzzer report
type Report struct {
	Name string
	Text string
}

// RunBatch triages independent reports in parallel, one sandbox per
// report. Outcomes keep the input order and a failed report does not
// stop the others.
func (r *Runner) RunBatch(ctx context.Context, reports []Report) []*Outcome {
	outcomes := make([]*Outcome, len(reports))

	var g errgroup.Group
	g.SetLimit(r.workers())

	for i, report := range reports {
		i, report := i, report
		g.Go(func() error {
			out, err := r.Run(ctx, report.Name, report.Text)
			if err != nil {
				r.logger.Warn("Failed to triage report",
					zap.String("report", report.Name),
					zap.Error(err),
				)
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// workers bounds batch concurrency by the configured worker count and the
// number of sandboxes available
func (r *Runner) workers() int {
	n := r.cfg.Triage.Workers
	if r.pool != nil && (n <= 0 || n > r.pool.Size()) {
		n = r.pool.Size()
	}
	return max(n, 1)
}
