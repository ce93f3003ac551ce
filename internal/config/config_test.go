package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("WAITLIST_BACKEND", "")
	t.Setenv("TASK_QUEUE", "")
	t.Setenv("AUTOMATION_QUEUE_URL", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if !cfg.UseRedisWaitlist() {
		t.Fatalf("expected redis waitlist by default")
	}
	if cfg.UseSQSQueue() {
		t.Fatalf("expected postgres outbox by default")
	}
	if cfg.TrialLength != 7*24*time.Hour {
		t.Fatalf("expected 7 day trial, got %s", cfg.TrialLength)
	}
	if cfg.TrialWarningWindow != 72*time.Hour {
		t.Fatalf("expected 3 day warning window, got %s", cfg.TrialWarningWindow)
	}
	if cfg.SweepConcurrency != 4 {
		t.Fatalf("expected sweep concurrency 4, got %d", cfg.SweepConcurrency)
	}
	if cfg.WeeklyReportInterval == cfg.MonthlyReportInterval {
		t.Fatalf("expected separate report cadences, got %s for both", cfg.WeeklyReportInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("WAITLIST_BACKEND", "MEMORY")
	t.Setenv("TASK_QUEUE", "sqs")
	t.Setenv("AUTOMATION_QUEUE_URL", "http://localstack:4566/000000000000/automation")
	t.Setenv("APP_BASE_URL", "https://app.example.com/")
	t.Setenv("NOTIFY_CHANNEL_TIMEOUT", "3s")
	t.Setenv("SWEEP_CONCURRENCY", "9")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("WEEKLY_REPORT_INTERVAL", "2h")
	t.Setenv("MONTHLY_REPORT_INTERVAL", "8h")
	cfg := Load()
	if cfg.WeeklyReportInterval != 2*time.Hour || cfg.MonthlyReportInterval != 8*time.Hour {
		t.Fatalf("expected report cadence overrides, got %s / %s", cfg.WeeklyReportInterval, cfg.MonthlyReportInterval)
	}
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.UseRedisWaitlist() {
		t.Fatalf("expected memory waitlist")
	}
	if !cfg.UseSQSQueue() {
		t.Fatalf("expected sqs task queue")
	}
	if cfg.AppBaseURL != "https://app.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.AppBaseURL)
	}
	if cfg.NotifyChannelTimeout != 3*time.Second {
		t.Fatalf("expected channel timeout override, got %s", cfg.NotifyChannelTimeout)
	}
	if cfg.SweepConcurrency != 9 {
		t.Fatalf("expected concurrency override, got %d", cfg.SweepConcurrency)
	}
	if cfg.OutboxMaxAttempts != 8 {
		t.Fatalf("expected invalid int to fall back to default, got %d", cfg.OutboxMaxAttempts)
	}
}
