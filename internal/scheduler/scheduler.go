// Package scheduler runs the automation sweeps on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinicops/internal/lock"
	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each registered job once at start and then every Interval.
// With a Locker configured, a tick only runs where the cluster lock for the
// job is acquired.
type Scheduler struct {
	jobs       []Job
	locker     lock.Locker
	runTimeout time.Duration
	metrics    *metrics.AutomationMetrics
	logger     *logging.Logger
	wg         sync.WaitGroup
}

func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{logger: logger, runTimeout: 10 * time.Minute}
}

func (s *Scheduler) WithLocker(l lock.Locker) *Scheduler {
	s.locker = l
	return s
}

func (s *Scheduler) WithRunTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.runTimeout = d
	}
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.AutomationMetrics) *Scheduler {
	s.metrics = m
	return s
}

// Register adds a job. A job with a non-positive interval is disabled.
func (s *Scheduler) Register(job Job) *Scheduler {
	if job.Interval <= 0 || job.Run == nil {
		s.logger.Info("scheduler: job disabled", "job", job.Name)
		return s
	}
	s.jobs = append(s.jobs, job)
	return s
}

// Jobs returns the names of the enabled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Start launches one loop per job. Loops stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, job)
		}()
	}
	s.logger.Info("scheduler started", "jobs", s.Jobs())
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	s.RunOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes a single tick of job and returns its error, if any.
// Losing the cluster lock is not an error.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (err error) {
	logger := s.logger.With("job", job.Name)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", job.Name, p)
		}
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			logger.Debug("scheduler: job running elsewhere; skipped")
			s.metrics.ObserveSchedulerRun(job.Name, "locked")
			err = nil
		case err != nil:
			logger.Error("scheduler: job failed", "error", err, "elapsed", time.Since(start))
			s.metrics.ObserveSchedulerRun(job.Name, "failed")
		default:
			logger.Debug("scheduler: job finished", "elapsed", time.Since(start))
			s.metrics.ObserveSchedulerRun(job.Name, "ran")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	if s.locker == nil {
		return job.Run(runCtx)
	}
	return s.locker.WithLock(runCtx, "sweep:"+job.Name, job.Run)
}
