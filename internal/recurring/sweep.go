package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const sweepJob = "recurring"

// SweepResult aggregates one ProcessRecurring pass.
type SweepResult struct {
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Errors    int      `json:"errors"`
	Results   []Result `json:"results"`
	Error     string   `json:"error,omitempty"`
}

// ProcessRecurring continues every recently completed recurring appointment
// that has no successor yet. An empty tenantID sweeps all tenants. One
// item's failure never aborts the batch.
func (s *Service) ProcessRecurring(ctx context.Context, tenantID string) (out SweepResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("recurring: sweep panicked", "tenant_id", tenantID, "panic", p)
			out.Error = fmt.Sprintf("recurring: internal error: %v", p)
		}
		var sweepErr error
		if out.Error != "" {
			sweepErr = errors.New(out.Error)
		}
		s.metrics.ObserveSweep(sweepJob, sweepErr, time.Since(start))
		s.metrics.ObserveSweepItems(sweepJob, "created", out.Created)
		s.metrics.ObserveSweepItems(sweepJob, "error", out.Errors)
	}()

	since := s.now().UTC().Add(-s.lookback)
	candidates, err := s.repo.ListCompletedRecurring(ctx, tenantID, since)
	if err != nil {
		s.logger.Error("recurring: list candidates failed", "tenant_id", tenantID, "error", err)
		return SweepResult{Results: []Result{}, Error: err.Error()}
	}

	results := make([]Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			results[i] = s.CreateNext(gctx, &candidates[i], Config{})
			return nil
		})
	}
	_ = g.Wait()

	out = SweepResult{Processed: len(results), Results: results}
	for _, r := range results {
		switch {
		case !r.Success:
			out.Errors++
		case r.Created:
			out.Created++
		}
	}
	if out.Processed > 0 {
		s.logger.Info("recurring: sweep finished", "tenant_id", tenantID, "processed", out.Processed, "created", out.Created, "errors", out.Errors)
	}
	return out
}
