package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinicops/internal/api/router"
	"github.com/wolfman30/clinicops/internal/app/bootstrap"
	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/archive"
	"github.com/wolfman30/clinicops/internal/automation"
	"github.com/wolfman30/clinicops/internal/codes"
	appconfig "github.com/wolfman30/clinicops/internal/config"
	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/events"
	"github.com/wolfman30/clinicops/internal/http/handlers"
	"github.com/wolfman30/clinicops/internal/lock"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/internal/reallocation"
	"github.com/wolfman30/clinicops/internal/recurring"
	"github.com/wolfman30/clinicops/internal/reports"
	"github.com/wolfman30/clinicops/internal/scheduler"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/subscription"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/internal/waitlist"
	"github.com/wolfman30/clinicops/pkg/logging"
)

const taskSource = "automation"

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinicops automation engine", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("automation engine stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("automation engine stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	var clients *bootstrap.AWSClients
	if bootstrap.NeedsAWS(cfg) {
		awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		clients = bootstrap.BuildAWSClients(awsCfg, cfg)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAutomationMetrics(reg)

	// Collaborators.
	repo := appointments.NewPostgresRepository(pool)
	allocator := buildAllocator(pool, rdb, repo)
	dir := directory.NewPostgresDirectory(pool)
	settingsStore := settings.NewStore(pool, rdb, logger)
	tenantStore := tenants.NewPostgresStore(pool)
	waitlistStore := buildWaitlist(cfg, rdb, logger)

	var publisher events.Publisher = events.NopPublisher{}
	if rdb != nil {
		publisher = events.NewRedisPublisher(rdb, logger)
	}

	var ses notify.SESAPI
	if clients != nil {
		ses = clients.SES
	}
	email, emailProvider := bootstrap.BuildEmailSender(cfg, ses, logger)
	sms, smsProvider := bootstrap.BuildSMSSender(cfg, logger)
	logger.Info("notification channels configured", "email", emailProvider, "sms", smsProvider)
	notifier := notify.NewDispatcher(sms, email, notify.NewPostgresInAppStore(pool), logger).
		WithChannelTimeout(cfg.NotifyChannelTimeout).
		WithMetrics(m)

	// Engine services.
	rec := recurring.NewService(repo, allocator, dir, settingsStore, notifier, logger).
		WithPublisher(publisher).
		WithMetrics(m).
		WithBaseURL(cfg.AppBaseURL).
		WithLookback(cfg.RecurringLookback).
		WithConcurrency(cfg.SweepConcurrency)
	realloc := reallocation.NewService(repo, waitlistStore, allocator, dir, settingsStore, notifier, logger).
		WithPublisher(publisher).
		WithMetrics(m).
		WithBaseURL(cfg.AppBaseURL).
		WithConcurrency(cfg.SweepConcurrency)
	monitor := subscription.NewMonitor(tenantStore, dir, settingsStore, notifier, logger).
		WithPublisher(publisher).
		WithMetrics(m).
		WithTrialPolicy(cfg.TrialLength, cfg.TrialWarningWindow).
		WithConcurrency(cfg.SweepConcurrency)
	if cfg.AppBaseURL != "" {
		monitor.WithBillingURL(cfg.AppBaseURL + "/billing")
	}
	processed := events.NewProcessedStore(pool)
	reportSvc := reports.NewService(reports.NewAggregator(pool), tenantStore, dir, settingsStore, notifier, logger).
		WithArchive(buildArchive(cfg, clients, logger)).
		WithLedger(processed).
		WithMetrics(m)

	engine := automation.NewEngine(repo, rec, realloc, monitor, reportSvc, logger)
	taskHandler := automation.NewTaskHandler(engine, logger)
	durable := events.Dedup(taskSource, processed, taskHandler, logger)

	// Task substrate. Either branch drains tasks until ctx is cancelled.
	var queue events.Queue
	var workerDone func()
	if cfg.UseSQSQueue() && clients != nil {
		sqsQueue := events.NewSQSQueue(clients.SQS, cfg.AutomationQueueURL)
		consumer := events.NewSQSConsumer(sqsQueue, durable, logger).
			WithWorkers(cfg.SweepConcurrency).
			WithMaxAttempts(cfg.OutboxMaxAttempts).
			WithMetrics(m)
		consumer.Start(ctx)
		queue, workerDone = sqsQueue, consumer.Wait
		logger.Info("task queue: sqs", "queue_url", cfg.AutomationQueueURL)
	} else {
		outbox := events.NewOutboxStore(pool)
		deliverer := events.NewDeliverer(outbox, durable, logger).
			WithBatchSize(int32(cfg.OutboxBatchSize)).
			WithInterval(cfg.OutboxInterval).
			WithRetry(cfg.OutboxMaxAttempts, cfg.OutboxBaseDelay).
			WithMetrics(m)
		done := make(chan struct{})
		go func() {
			defer close(done)
			deliverer.Start(ctx)
		}()
		queue, workerDone = outbox, func() { <-done }
		logger.Info("task queue: postgres outbox")
	}
	trigger := automation.NewTrigger(queue, taskHandler, logger)

	sched := buildScheduler(cfg, engine, rdb, m, logger)
	sched.Start(ctx)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger:            logger,
			AdminAuthSecret:   cfg.AdminJWTSecret,
			MetricsHandler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Automation:        handlers.NewAutomationHandler(trigger, engine, logger),
			Tenants:           handlers.NewTenantHandler(settingsStore, monitor, tenantStore, logger),
			Waitlist:          waitlist.NewHandler(waitlistStore, logger),
			HookRatePerSecond: 20,
			HookBurst:         40,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	sched.Wait()
	trigger.Wait()
	workerDone()
	return nil
}

func buildAllocator(pool *pgxpool.Pool, rdb *redis.Client, repo *appointments.PostgresRepository) codes.Allocator {
	if rdb != nil {
		return codes.NewRedisAllocator(rdb, repo.Seeder())
	}
	return codes.NewPostgresAllocator(pool, repo.Seeder())
}

func buildWaitlist(cfg *appconfig.Config, rdb *redis.Client, logger *logging.Logger) waitlist.Store {
	if cfg.UseRedisWaitlist() && rdb != nil {
		locker := lock.NewRedisLocker(rdb, 5*time.Second).WithWait(2 * time.Second)
		return waitlist.NewRedisStore(rdb, locker)
	}
	logger.Warn("waitlist: using in-memory store; entries are lost on restart")
	return waitlist.NewMemoryStore()
}

func buildArchive(cfg *appconfig.Config, clients *bootstrap.AWSClients, logger *logging.Logger) *archive.Store {
	if clients == nil || cfg.ReportArchiveBucket == "" {
		return archive.NewStore(nil, "", logger)
	}
	return archive.NewStore(clients.S3, cfg.ReportArchiveBucket, logger)
}

func buildScheduler(cfg *appconfig.Config, engine *automation.Engine, rdb *redis.Client, m *metrics.AutomationMetrics, logger *logging.Logger) *scheduler.Scheduler {
	sched := scheduler.New(logger).
		WithRunTimeout(cfg.SweepTimeout).
		WithMetrics(m)
	if rdb != nil {
		sched.WithLocker(lock.NewRedisLocker(rdb, cfg.SweepLockTTL))
	}

	intervals := map[string]time.Duration{
		automation.SweepRecurring:      cfg.RecurringSweepInterval,
		automation.SweepWaitlist:       cfg.WaitlistSweepInterval,
		automation.SweepTrialWarnings:  cfg.TrialWarningInterval,
		automation.SweepTrialExpiry:    cfg.TrialExpiryInterval,
		automation.SweepWeeklyReports:  cfg.WeeklyReportInterval,
		automation.SweepMonthlyReports: cfg.MonthlyReportInterval,
	}
	for _, name := range automation.SweepNames() {
		sched.Register(scheduler.Job{
			Name:     name,
			Interval: intervals[name],
			Run:      sweepJob(engine, name),
		})
	}
	return sched
}

func sweepJob(engine *automation.Engine, name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, ok, err := engine.RunSweep(ctx, name, "")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("sweep %s reported failures", name)
		}
		return nil
	}
}
