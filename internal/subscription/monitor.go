// Package subscription enforces the tenant trial lifecycle: it warns admins
// before a trial ends and expires trials once they lapse.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/events"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.subscription")

const (
	jobWarnings = "trial_warnings"
	jobExpiry   = "trial_expiry"
)

// Enforcer applies access restrictions to a tenant whose trial expired.
type Enforcer interface {
	Enforce(ctx context.Context, sub tenants.Subscription) error
}

// EnforcerFunc adapts a function to Enforcer.
type EnforcerFunc func(ctx context.Context, sub tenants.Subscription) error

func (f EnforcerFunc) Enforce(ctx context.Context, sub tenants.Subscription) error { return f(ctx, sub) }

// NopEnforcer restricts nothing. Access policy for expired tenants lives
// with the host application.
type NopEnforcer struct{}

func (NopEnforcer) Enforce(context.Context, tenants.Subscription) error { return nil }

// WarningResult aggregates one SendTrialExpirationWarnings pass.
type WarningResult struct {
	WarningsSent int    `json:"warnings_sent"`
	Errors       int    `json:"errors"`
	Error        string `json:"error,omitempty"`
}

// ExpiryOutcome is the result for one tenant in the expiry sweep.
type ExpiryOutcome struct {
	TenantID       string `json:"tenant_id"`
	Expired        bool   `json:"expired"`
	AdminsNotified int    `json:"admins_notified"`
	Error          string `json:"error,omitempty"`
}

// ExpiryResult aggregates one ProcessExpiredTrials pass.
type ExpiryResult struct {
	Processed int             `json:"processed"`
	Expired   int             `json:"expired"`
	Errors    int             `json:"errors"`
	Results   []ExpiryOutcome `json:"results"`
	Error     string          `json:"error,omitempty"`
}

// Monitor runs the trial warning and expiry sweeps.
type Monitor struct {
	store         tenants.Store
	directory     directory.Directory
	settings      settings.Provider
	notifier      notify.Notifier
	enforcer      Enforcer
	publisher     events.Publisher
	metrics       *metrics.AutomationMetrics
	logger        *logging.Logger
	warningWindow time.Duration
	trialLength   time.Duration
	billingURL    string
	concurrency   int
	now           func() time.Time
}

// NewMonitor wires the lifecycle monitor.
func NewMonitor(store tenants.Store, dir directory.Directory, provider settings.Provider, notifier notify.Notifier, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		store:         store,
		directory:     dir,
		settings:      provider,
		notifier:      notifier,
		enforcer:      NopEnforcer{},
		publisher:     events.NopPublisher{},
		logger:        logger,
		warningWindow: 3 * 24 * time.Hour,
		trialLength:   7 * 24 * time.Hour,
		concurrency:   4,
		now:           time.Now,
	}
}

func (m *Monitor) WithEnforcer(e Enforcer) *Monitor {
	if e != nil {
		m.enforcer = e
	}
	return m
}

func (m *Monitor) WithPublisher(p events.Publisher) *Monitor {
	if p != nil {
		m.publisher = p
	}
	return m
}

func (m *Monitor) WithMetrics(mt *metrics.AutomationMetrics) *Monitor {
	m.metrics = mt
	return m
}

// WithTrialPolicy sets the trial length and how long before expiry warnings start.
func (m *Monitor) WithTrialPolicy(length, warningWindow time.Duration) *Monitor {
	if length > 0 {
		m.trialLength = length
	}
	if warningWindow > 0 {
		m.warningWindow = warningWindow
	}
	return m
}

// WithBillingURL sets the link admins follow to pick a plan.
func (m *Monitor) WithBillingURL(url string) *Monitor {
	m.billingURL = url
	return m
}

func (m *Monitor) WithConcurrency(n int) *Monitor {
	if n > 0 {
		m.concurrency = n
	}
	return m
}

// StartTrial puts a newly onboarded tenant on a fresh trial.
func (m *Monitor) StartTrial(ctx context.Context, tenantID, name string) (*tenants.Subscription, error) {
	if tenantID == "" {
		return nil, errors.New("subscription: tenant is required")
	}
	sub, err := m.store.StartTrial(ctx, tenantID, name, m.trialLength, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.logger.Info("subscription: trial started", "tenant_id", tenantID, "expires_at", sub.ExpiresAt)
	return sub, nil
}

// SendTrialExpirationWarnings warns the admins of every active trial that
// ends within the warning window. Each tenant is warned at most once per
// days-remaining threshold.
func (m *Monitor) SendTrialExpirationWarnings(ctx context.Context) (out WarningResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("subscription: warning sweep panicked", "panic", p)
			out.Error = fmt.Sprintf("subscription: internal error: %v", p)
		}
		m.observe(jobWarnings, out.Error, start)
		m.metrics.ObserveSweepItems(jobWarnings, "warned", out.WarningsSent)
		m.metrics.ObserveSweepItems(jobWarnings, "error", out.Errors)
	}()

	ctx, span := tracer.Start(ctx, "subscription.send_trial_warnings")
	defer span.End()

	now := m.now().UTC()
	subs, err := m.store.ListTrialsExpiringBetween(ctx, now, now.Add(m.warningWindow))
	if err != nil {
		m.logger.Error("subscription: list expiring trials failed", "error", err)
		return WarningResult{Error: err.Error()}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			sent, err := m.warn(gctx, sub, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors++
				m.logger.Error("subscription: trial warning failed", "tenant_id", sub.TenantID, "error", err)
			} else if sent {
				out.WarningsSent++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("subscription.warnings_sent", out.WarningsSent))
	return out
}

func (m *Monitor) warn(ctx context.Context, sub tenants.Subscription, now time.Time) (bool, error) {
	days := sub.DaysRemaining(now)
	if days <= 0 || !sub.ShouldWarn(days) {
		return false, nil
	}
	st, err := m.settings.Get(ctx, sub.TenantID)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if !st.Automation.AutoTrialNotifications {
		return false, nil
	}

	// Recipients are resolved before the claim so a failed lookup leaves the
	// threshold open for the next sweep.
	admins, err := m.admins(ctx, sub.TenantID)
	if err != nil {
		return false, err
	}

	// Claim the threshold before sending so concurrent sweeps never warn twice.
	claimed, err := m.store.RecordWarning(ctx, sub.TenantID, days, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	notified := m.dispatchAll(ctx, sub.TenantID, admins, notify.TrialWarning(clinicName(st, sub), days, m.billingURL))
	m.logger.Info("subscription: trial warning sent", "tenant_id", sub.TenantID, "days_remaining", days, "admins_notified", notified)
	return true, nil
}

// ProcessExpiredTrials expires every active trial whose expiry has passed,
// notifies its admins and runs the enforcement hook. Re-running is a no-op
// because expired tenants no longer match.
func (m *Monitor) ProcessExpiredTrials(ctx context.Context) (out ExpiryResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("subscription: expiry sweep panicked", "panic", p)
			out.Error = fmt.Sprintf("subscription: internal error: %v", p)
		}
		m.observe(jobExpiry, out.Error, start)
		m.metrics.ObserveSweepItems(jobExpiry, "expired", out.Expired)
		m.metrics.ObserveSweepItems(jobExpiry, "error", out.Errors)
	}()

	ctx, span := tracer.Start(ctx, "subscription.process_expired_trials")
	defer span.End()

	now := m.now().UTC()
	subs, err := m.store.ListTrialsExpiredBy(ctx, now)
	if err != nil {
		m.logger.Error("subscription: list expired trials failed", "error", err)
		return ExpiryResult{Results: []ExpiryOutcome{}, Error: err.Error()}
	}

	results := make([]ExpiryOutcome, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range subs {
		i := i
		g.Go(func() error {
			results[i] = m.expire(gctx, subs[i], now)
			return nil
		})
	}
	_ = g.Wait()

	out = ExpiryResult{Processed: len(results), Results: results}
	for _, r := range results {
		if r.Error != "" {
			out.Errors++
		}
		if r.Expired {
			out.Expired++
		}
	}
	span.SetAttributes(attribute.Int("subscription.expired", out.Expired))
	if out.Processed > 0 {
		m.logger.Info("subscription: expiry sweep finished", "processed", out.Processed, "expired", out.Expired, "errors", out.Errors)
	}
	return out
}

func (m *Monitor) expire(ctx context.Context, sub tenants.Subscription, now time.Time) (res ExpiryOutcome) {
	res.TenantID = sub.TenantID
	defer func() {
		if p := recover(); p != nil {
			res.Error = fmt.Sprintf("subscription: internal error: %v", p)
		}
	}()

	changed, err := m.store.MarkExpired(ctx, sub.TenantID, now)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !changed {
		return res
	}
	res.Expired = true
	sub.Status = tenants.StatusExpired
	m.logger.Info("subscription: trial expired", "tenant_id", sub.TenantID, "expires_at", sub.ExpiresAt)

	if err := m.enforcer.Enforce(ctx, sub); err != nil {
		res.Error = fmt.Sprintf("enforce: %v", err)
		m.logger.Error("subscription: enforcement failed", "tenant_id", sub.TenantID, "error", err)
	}

	m.publisher.Publish(ctx, events.Event{
		Type:     events.EventTrialExpired,
		TenantID: sub.TenantID,
		EntityID: sub.TenantID,
		Data:     map[string]any{"expires_at": sub.ExpiresAt},
	})

	st, err := m.settings.Get(ctx, sub.TenantID)
	if err != nil {
		m.logger.Warn("subscription: settings unavailable; skipping expiry notice", "tenant_id", sub.TenantID, "error", err)
		return res
	}
	if !st.Automation.AutoTrialNotifications {
		return res
	}
	admins, err := m.admins(ctx, sub.TenantID)
	if err != nil {
		m.logger.Warn("subscription: expiry notice failed", "tenant_id", sub.TenantID, "error", err)
		return res
	}
	res.AdminsNotified = m.dispatchAll(ctx, sub.TenantID, admins, notify.TrialExpired(clinicName(st, sub), m.billingURL))
	return res
}

func (m *Monitor) admins(ctx context.Context, tenantID string) ([]directory.User, error) {
	if m.notifier == nil || m.directory == nil {
		return nil, nil
	}
	admins, err := m.directory.UsersByRole(ctx, tenantID, directory.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// dispatchAll sends env to every admin and returns how many received it on
// at least one channel.
func (m *Monitor) dispatchAll(ctx context.Context, tenantID string, admins []directory.User, env notify.Envelope) int {
	env.TenantID = tenantID
	notified := 0
	for _, u := range admins {
		res := m.notifier.Dispatch(ctx, env.For(notify.Recipient{UserID: u.ID, Name: u.Name, Phone: u.Phone, Email: u.Email}))
		if res.Any() {
			notified++
		}
	}
	return notified
}

func (m *Monitor) observe(job, errMsg string, start time.Time) {
	var err error
	if errMsg != "" {
		err = errors.New(errMsg)
	}
	m.metrics.ObserveSweep(job, err, time.Since(start))
}

func clinicName(st *settings.Settings, sub tenants.Subscription) string {
	if sub.TenantName != "" {
		return sub.TenantName
	}
	return st.ClinicName
}
