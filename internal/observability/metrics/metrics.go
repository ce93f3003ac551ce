package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AutomationMetrics exposes counters/histograms for the automation engine.
type AutomationMetrics struct {
	dispatchTotal  *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	sweepItems     *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
	taskDeliveries *prometheus.CounterVec
	schedulerRuns  *prometheus.CounterVec
}

func NewAutomationMetrics(reg prometheus.Registerer) *AutomationMetrics {
	m := &AutomationMetrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Notification channel attempts by outcome",
		}, []string{"channel", "outcome"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "automation",
			Name:      "sweep_runs_total",
			Help:      "Sweep executions by job and status",
		}, []string{"job", "status"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "automation",
			Name:      "sweep_items_total",
			Help:      "Items handled by sweeps by outcome",
		}, []string{"job", "outcome"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicops",
			Subsystem: "automation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		taskDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "tasks",
			Name:      "deliveries_total",
			Help:      "Durable task deliveries by task type and outcome",
		}, []string{"type", "outcome"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job ticks by outcome",
		}, []string{"job", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchTotal, m.sweepRuns, m.sweepItems, m.sweepDuration, m.taskDeliveries, m.schedulerRuns)
	return m
}

func (m *AutomationMetrics) ObserveDispatch(channel, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveSweep records one sweep run.
func (m *AutomationMetrics) ObserveSweep(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sweepRuns.WithLabelValues(job, status).Inc()
	m.sweepDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *AutomationMetrics) ObserveSweepItems(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepItems.WithLabelValues(job, outcome).Add(float64(n))
}

// ObserveTask records a durable task outcome: delivered, retried, dead_lettered or duplicate.
func (m *AutomationMetrics) ObserveTask(taskType, outcome string) {
	if m == nil {
		return
	}
	m.taskDeliveries.WithLabelValues(taskType, outcome).Inc()
}

// ObserveSchedulerRun records one scheduler tick: ran, failed or locked.
func (m *AutomationMetrics) ObserveSchedulerRun(job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, outcome).Inc()
}
