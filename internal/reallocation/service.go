// Package reallocation offers the slot of a cancelled appointment to the
// best-matching patient on the tenant's waitlist.
package reallocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/codes"
	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/events"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/waitlist"
	"github.com/wolfman30/clinicops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.reallocation")

// Skip reasons. All of them are successful outcomes.
const (
	ReasonDisabled      = "automation disabled"
	ReasonNotCancelled  = "appointment not cancelled"
	ReasonAlreadyFilled = "slot already filled"
	ReasonNoMatch       = "no waitlist match"
)

// ErrAppointmentNotFound is reported when the cancelled appointment does not exist.
var ErrAppointmentNotFound = errors.New("reallocation: appointment not found")

// Result is the outcome of one fill attempt.
type Result struct {
	Success       bool                      `json:"success"`
	AppointmentID uuid.UUID                 `json:"appointment_id"`
	Filled        bool                      `json:"filled"`
	Skipped       bool                      `json:"skipped,omitempty"`
	Reason        string                    `json:"reason,omitempty"`
	PatientID     string                    `json:"patient_id,omitempty"`
	Replacement   *appointments.Appointment `json:"replacement,omitempty"`
	Notification  notify.Result             `json:"notification"`
	Error         string                    `json:"error,omitempty"`
}

func skipped(id uuid.UUID, reason string) Result {
	return Result{Success: true, AppointmentID: id, Skipped: true, Reason: reason}
}

func failed(id uuid.UUID, err error) Result {
	return Result{AppointmentID: id, Error: err.Error()}
}

// Service fills cancelled slots from the waitlist.
type Service struct {
	repo        appointments.Repository
	waitlist    waitlist.Store
	codes       codes.Allocator
	directory   directory.Directory
	settings    settings.Provider
	notifier    notify.Notifier
	publisher   events.Publisher
	metrics     *metrics.AutomationMetrics
	logger      *logging.Logger
	baseURL     string
	lookback    time.Duration
	concurrency int
	now         func() time.Time
}

// NewService wires the reallocation service.
func NewService(repo appointments.Repository, store waitlist.Store, allocator codes.Allocator, dir directory.Directory, provider settings.Provider, notifier notify.Notifier, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:        repo,
		waitlist:    store,
		codes:       allocator,
		directory:   dir,
		settings:    provider,
		notifier:    notifier,
		publisher:   events.NopPublisher{},
		logger:      logger,
		lookback:    7 * 24 * time.Hour,
		concurrency: 4,
		now:         time.Now,
	}
}

func (s *Service) WithPublisher(p events.Publisher) *Service {
	if p != nil {
		s.publisher = p
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.AutomationMetrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithBaseURL(base string) *Service {
	s.baseURL = base
	return s
}

// WithLookback bounds how long ago a cancellation may have happened for the
// sweep to still try to fill it.
func (s *Service) WithLookback(d time.Duration) *Service {
	if d > 0 {
		s.lookback = d
	}
	return s
}

func (s *Service) WithConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// FillCancelledSlot books the freed slot of a cancelled appointment for the
// first compatible waitlist entry and asks that patient to confirm. Repeated
// calls for the same appointment create at most one replacement.
func (s *Service) FillCancelledSlot(ctx context.Context, tenantID string, appointmentID uuid.UUID) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("reallocation: panic filling slot", "tenant_id", tenantID, "appointment_id", appointmentID, "panic", p)
			res = failed(appointmentID, fmt.Errorf("reallocation: internal error: %v", p))
		}
	}()

	ctx, span := tracer.Start(ctx, "reallocation.fill_cancelled_slot")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", tenantID),
		attribute.String("clinic.appointment_id", appointmentID.String()),
	)

	res = s.fill(ctx, tenantID, appointmentID)
	span.SetAttributes(attribute.Bool("reallocation.filled", res.Filled), attribute.String("reallocation.reason", res.Reason))
	return res
}

func (s *Service) fill(ctx context.Context, tenantID string, appointmentID uuid.UUID) Result {
	if tenantID == "" {
		return failed(appointmentID, errors.New("reallocation: tenant is required"))
	}
	logger := s.logger.WithTenant(tenantID).With("appointment_id", appointmentID)

	st, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		return failed(appointmentID, fmt.Errorf("reallocation: load settings: %w", err))
	}
	if !st.Automation.AutoWaitlistManagement {
		return skipped(appointmentID, ReasonDisabled)
	}

	cancelled, err := s.repo.Get(ctx, tenantID, appointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			return failed(appointmentID, ErrAppointmentNotFound)
		}
		return failed(appointmentID, fmt.Errorf("reallocation: load appointment: %w", err))
	}
	if cancelled.Status != appointments.StatusCancelled {
		return skipped(appointmentID, ReasonNotCancelled)
	}

	existing, err := s.repo.FindReplacement(ctx, tenantID, appointmentID)
	if err != nil {
		return failed(appointmentID, fmt.Errorf("reallocation: find replacement: %w", err))
	}
	if existing != nil {
		return skipped(appointmentID, ReasonAlreadyFilled)
	}

	slot := waitlist.Slot{Date: cancelled.Date, Time: cancelled.Time, DoctorID: cancelled.DoctorID}
	entry, err := s.waitlist.Claim(ctx, tenantID, slot)
	if err != nil {
		return failed(appointmentID, fmt.Errorf("reallocation: claim waitlist entry: %w", err))
	}
	if entry == nil {
		return skipped(appointmentID, ReasonNoMatch)
	}

	replacement, err := s.book(ctx, cancelled, entry)
	if err != nil {
		// The slot was not booked, so the patient goes back on the list.
		if addErr := s.waitlist.Add(ctx, *entry); addErr != nil {
			logger.Error("reallocation: failed to restore waitlist entry", "patient_id", entry.PatientID, "error", addErr)
		}
		if errors.Is(err, appointments.ErrDuplicate) {
			logger.Info("reallocation: slot filled concurrently")
			return skipped(appointmentID, ReasonAlreadyFilled)
		}
		return failed(appointmentID, err)
	}

	logger.Info("reallocation: slot offered", "replacement_id", replacement.ID, "code", replacement.Code, "patient_id", entry.PatientID, "priority", entry.Priority)

	res := Result{Success: true, AppointmentID: appointmentID, Filled: true, PatientID: entry.PatientID, Replacement: replacement}
	res.Notification = s.notifyPatient(ctx, st, replacement)

	s.publisher.Publish(ctx, events.Event{
		Type:     events.EventWaitlistFilled,
		TenantID: tenantID,
		EntityID: replacement.ID.String(),
		Data: map[string]any{
			"code":                    replacement.Code,
			"replaces_appointment_id": appointmentID.String(),
			"patient_id":              entry.PatientID,
		},
	})
	return res
}

func (s *Service) book(ctx context.Context, cancelled *appointments.Appointment, entry *waitlist.Entry) (*appointments.Appointment, error) {
	code, err := s.codes.Next(ctx, cancelled.TenantID, appointments.CodePrefix)
	if err != nil {
		return nil, fmt.Errorf("reallocation: allocate code: %w", err)
	}
	replaces := cancelled.ID
	appt := &appointments.Appointment{
		TenantID:              cancelled.TenantID,
		Code:                  code,
		PatientID:             entry.PatientID,
		DoctorID:              cancelled.DoctorID,
		Date:                  cancelled.Date,
		Time:                  cancelled.Time,
		DurationMinutes:       cancelled.DurationMinutes,
		Status:                appointments.StatusScheduled,
		Reason:                cancelled.Reason,
		Notes:                 entry.Notes,
		ReplacesAppointmentID: &replaces,
		Source:                appointments.SourceWaitlist,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		if errors.Is(err, appointments.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("reallocation: create replacement: %w", err)
	}
	return appt, nil
}

func (s *Service) notifyPatient(ctx context.Context, st *settings.Settings, appt *appointments.Appointment) notify.Result {
	if s.notifier == nil || s.directory == nil {
		return notify.Result{}
	}
	patient, err := s.directory.Patient(ctx, appt.TenantID, appt.PatientID)
	if err != nil {
		s.logger.Warn("reallocation: patient lookup failed; skipping notification", "tenant_id", appt.TenantID, "patient_id", appt.PatientID, "error", err)
		return notify.Result{}
	}
	doctorName, _ := s.directory.DoctorName(ctx, appt.TenantID, appt.DoctorID)

	actionURL := ""
	if s.baseURL != "" {
		actionURL = s.baseURL + "/appointments/" + appt.ID.String() + "/confirm"
	}
	env := notify.SlotOffered(notify.SlotOfferData{
		ClinicName:  st.ClinicName,
		PatientName: patient.FirstName,
		DoctorName:  doctorName,
		When:        appt.Describe(),
		Code:        appt.Code,
		ActionURL:   actionURL,
	})
	env.TenantID = appt.TenantID
	return s.notifier.Dispatch(ctx, env.For(notify.Recipient{
		UserID: patient.UserID,
		Name:   patient.FullName(),
		Phone:  patient.Phone,
		Email:  patient.Email,
	}))
}
