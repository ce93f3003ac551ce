package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAutomationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAutomationMetrics(reg)

	m.ObserveDispatch("email", "failed")
	m.ObserveDispatch("email", "failed")
	m.ObserveSweep("trial_expiry", nil, time.Second)
	m.ObserveSweep("trial_expiry", errors.New("boom"), time.Second)
	m.ObserveSweepItems("trial_expiry", "expired", 3)
	m.ObserveSweepItems("trial_expiry", "expired", 0)
	m.ObserveTask("appointment.completed", "delivered")
	m.ObserveSchedulerRun("trial_expiry", "locked")

	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("email", "failed")); got != 2 {
		t.Fatalf("dispatch counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sweepRuns.WithLabelValues("trial_expiry", "error")); got != 1 {
		t.Fatalf("sweep error counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sweepItems.WithLabelValues("trial_expiry", "expired")); got != 3 {
		t.Fatalf("sweep items = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.schedulerRuns.WithLabelValues("trial_expiry", "locked")); got != 1 {
		t.Fatalf("scheduler runs = %v, want 1", got)
	}
}

func TestAutomationMetricsNilSafe(t *testing.T) {
	var m *AutomationMetrics
	m.ObserveDispatch("sms", "sent")
	m.ObserveSweep("job", nil, time.Millisecond)
	m.ObserveSweepItems("job", "ok", 1)
	m.ObserveTask("type", "retried")
	m.ObserveSchedulerRun("job", "ran")
}
