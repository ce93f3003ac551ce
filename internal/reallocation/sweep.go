package reallocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const sweepJob = "waitlist_fill"

// SweepResult aggregates one ProcessWaitlistFills pass.
type SweepResult struct {
	Processed int      `json:"processed"`
	Filled    int      `json:"filled"`
	Errors    int      `json:"errors"`
	Results   []Result `json:"results"`
	Error     string   `json:"error,omitempty"`
}

// ProcessWaitlistFills retries every recent cancellation of a future slot
// that has no replacement yet. An empty tenantID sweeps all tenants.
func (s *Service) ProcessWaitlistFills(ctx context.Context, tenantID string) (out SweepResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("reallocation: sweep panicked", "tenant_id", tenantID, "panic", p)
			out.Error = fmt.Sprintf("reallocation: internal error: %v", p)
		}
		var sweepErr error
		if out.Error != "" {
			sweepErr = errors.New(out.Error)
		}
		s.metrics.ObserveSweep(sweepJob, sweepErr, time.Since(start))
		s.metrics.ObserveSweepItems(sweepJob, "filled", out.Filled)
		s.metrics.ObserveSweepItems(sweepJob, "error", out.Errors)
	}()

	now := s.now().UTC()
	candidates, err := s.repo.ListCancelledUnfilled(ctx, tenantID, now.Add(-s.lookback), now)
	if err != nil {
		s.logger.Error("reallocation: list candidates failed", "tenant_id", tenantID, "error", err)
		return SweepResult{Results: []Result{}, Error: err.Error()}
	}

	// Slots of one tenant are filled in order so the earliest cancelled slot
	// gets the highest-priority patient; tenants run concurrently.
	byTenant := make(map[string][]int)
	var order []string
	for i, c := range candidates {
		if _, ok := byTenant[c.TenantID]; !ok {
			order = append(order, c.TenantID)
		}
		byTenant[c.TenantID] = append(byTenant[c.TenantID], i)
	}

	results := make([]Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, tid := range order {
		idx := byTenant[tid]
		g.Go(func() error {
			for _, i := range idx {
				results[i] = s.FillCancelledSlot(gctx, candidates[i].TenantID, candidates[i].ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	out = SweepResult{Processed: len(results), Results: results}
	for _, r := range results {
		switch {
		case !r.Success:
			out.Errors++
		case r.Filled:
			out.Filled++
		}
	}
	if out.Processed > 0 {
		s.logger.Info("reallocation: sweep finished", "tenant_id", tenantID, "processed", out.Processed, "filled", out.Filled, "errors", out.Errors)
	}
	return out
}
