// Package automation is the entry point other parts of the platform use to
// run clinic automation: scheduled sweeps and the inline hooks fired when an
// appointment changes status.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/reallocation"
	"github.com/wolfman30/clinicops/internal/recurring"
	"github.com/wolfman30/clinicops/internal/reports"
	"github.com/wolfman30/clinicops/internal/subscription"
	"github.com/wolfman30/clinicops/internal/tenancy"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Sweep names, shared by the scheduler and the admin API.
const (
	SweepRecurring      = "recurring"
	SweepWaitlist       = "waitlist"
	SweepTrialWarnings  = "trial_warnings"
	SweepTrialExpiry    = "trial_expiry"
	SweepWeeklyReports  = "weekly_reports"
	SweepMonthlyReports = "monthly_reports"
)

// ErrUnknownSweep is returned by RunSweep for an unregistered name.
var ErrUnknownSweep = errors.New("automation: unknown sweep")

// Engine groups the automation services. Every method returns a result value
// and never panics into the caller.
type Engine struct {
	appointments appointments.Repository
	recurring    *recurring.Service
	reallocation *reallocation.Service
	subscription *subscription.Monitor
	reports      *reports.Service
	logger       *logging.Logger
}

func NewEngine(repo appointments.Repository, rec *recurring.Service, realloc *reallocation.Service, monitor *subscription.Monitor, rep *reports.Service, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		appointments: repo,
		recurring:    rec,
		reallocation: realloc,
		subscription: monitor,
		reports:      rep,
		logger:       logger,
	}
}

func (e *Engine) ProcessRecurringAppointments(ctx context.Context, tenantID string) (out recurring.SweepResult) {
	defer e.recover("process_recurring", func(msg string) { out = recurring.SweepResult{Results: []recurring.Result{}, Error: msg} })
	return e.recurring.ProcessRecurring(ctx, tenancy.Resolve(ctx, tenantID))
}

func (e *Engine) ProcessWaitlistFills(ctx context.Context, tenantID string) (out reallocation.SweepResult) {
	defer e.recover("process_waitlist_fills", func(msg string) {
		out = reallocation.SweepResult{Results: []reallocation.Result{}, Error: msg}
	})
	return e.reallocation.ProcessWaitlistFills(ctx, tenancy.Resolve(ctx, tenantID))
}

func (e *Engine) ProcessExpiredTrials(ctx context.Context) (out subscription.ExpiryResult) {
	defer e.recover("process_expired_trials", func(msg string) {
		out = subscription.ExpiryResult{Results: []subscription.ExpiryOutcome{}, Error: msg}
	})
	return e.subscription.ProcessExpiredTrials(ctx)
}

func (e *Engine) SendTrialExpirationWarnings(ctx context.Context) (out subscription.WarningResult) {
	defer e.recover("send_trial_warnings", func(msg string) { out = subscription.WarningResult{Error: msg} })
	return e.subscription.SendTrialExpirationWarnings(ctx)
}

func (e *Engine) ProcessWeeklyReports(ctx context.Context, tenantID string) (out reports.Result) {
	defer e.recover("process_weekly_reports", func(msg string) { out = reports.Result{Tenants: []reports.TenantOutcome{}, Error: msg} })
	return e.reports.ProcessWeekly(ctx, tenancy.Resolve(ctx, tenantID))
}

func (e *Engine) ProcessMonthlyReports(ctx context.Context, tenantID string) (out reports.Result) {
	defer e.recover("process_monthly_reports", func(msg string) { out = reports.Result{Tenants: []reports.TenantOutcome{}, Error: msg} })
	return e.reports.ProcessMonthly(ctx, tenancy.Resolve(ctx, tenantID))
}

// CreateNextRecurringAppointment continues the series of a just-completed appointment.
func (e *Engine) CreateNextRecurringAppointment(ctx context.Context, appt *appointments.Appointment, cfg recurring.Config) (out recurring.Result) {
	var id uuid.UUID
	if appt != nil {
		id = appt.ID
	}
	defer e.recover("create_next_recurring", func(msg string) { out = recurring.Result{AppointmentID: id, Error: msg} })
	if appt == nil {
		return recurring.Result{Error: "automation: appointment is required"}
	}
	return e.recurring.CreateNext(ctx, appt, cfg)
}

// FillCancelledSlot offers a cancelled slot to the waitlist. tenantID may be
// empty when ctx carries the tenant.
func (e *Engine) FillCancelledSlot(ctx context.Context, appointmentID uuid.UUID, tenantID string) (out reallocation.Result) {
	defer e.recover("fill_cancelled_slot", func(msg string) { out = reallocation.Result{AppointmentID: appointmentID, Error: msg} })
	return e.reallocation.FillCancelledSlot(ctx, tenancy.Resolve(ctx, tenantID), appointmentID)
}

// SweepNames lists the sweeps RunSweep accepts.
func SweepNames() []string {
	names := []string{SweepRecurring, SweepWaitlist, SweepTrialWarnings, SweepTrialExpiry, SweepWeeklyReports, SweepMonthlyReports}
	sort.Strings(names)
	return names
}

// RunSweep runs a sweep by name and reports its result and whether it
// finished without a sweep-level error.
func (e *Engine) RunSweep(ctx context.Context, name, tenantID string) (any, bool, error) {
	switch name {
	case SweepRecurring:
		r := e.ProcessRecurringAppointments(ctx, tenantID)
		return r, r.Error == "", nil
	case SweepWaitlist:
		r := e.ProcessWaitlistFills(ctx, tenantID)
		return r, r.Error == "", nil
	case SweepTrialWarnings:
		r := e.SendTrialExpirationWarnings(ctx)
		return r, r.Error == "", nil
	case SweepTrialExpiry:
		r := e.ProcessExpiredTrials(ctx)
		return r, r.Error == "", nil
	case SweepWeeklyReports:
		r := e.ProcessWeeklyReports(ctx, tenantID)
		return r, r.Success, nil
	case SweepMonthlyReports:
		r := e.ProcessMonthlyReports(ctx, tenantID)
		return r, r.Success, nil
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownSweep, name)
	}
}

func (e *Engine) recover(op string, set func(msg string)) {
	if p := recover(); p != nil {
		e.logger.Error("automation: panic recovered", "operation", op, "panic", p)
		set(fmt.Sprintf("automation: internal error: %v", p))
	}
}
