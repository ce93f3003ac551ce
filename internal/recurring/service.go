// Package recurring continues recurring appointment series: when an
// appointment in a series completes, the next one is booked.
package recurring

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
	"github.com/wolfman30/clinicops/internal/recurrence"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.recurring")

// Skip reasons. All of them are successful outcomes.
const (
	ReasonDisabled       = "automation disabled"
	ReasonNotCompleted   = "appointment not completed"
	ReasonNotRecurring   = "appointment not recurring"
	ReasonNoOp           = "no-op"
	ReasonSeriesComplete = "series complete"
)

// Config carries per-call options for CreateNext.
type Config struct {
	// Settings, when set, is used instead of loading the tenant's settings.
	Settings *settings.Settings
	// Frequency and EndDate configure a new series for an appointment that
	// is not yet linked to one. Without Frequency the notes are consulted.
	Frequency recurrence.Frequency
	EndDate   *time.Time
}

// Result is the outcome of one continuation attempt.
type Result struct {
	Success       bool                      `json:"success"`
	AppointmentID uuid.UUID                 `json:"appointment_id"`
	Created       bool                      `json:"created"`
	Skipped       bool                      `json:"skipped,omitempty"`
	Reason        string                    `json:"reason,omitempty"`
	Next          *appointments.Appointment `json:"next,omitempty"`
	Notification  notify.Result             `json:"notification"`
	Error         string                    `json:"error,omitempty"`
}

func skipped(id uuid.UUID, reason string) Result {
	return Result{Success: true, AppointmentID: id, Skipped: true, Reason: reason}
}

func failed(id uuid.UUID, err error) Result {
	return Result{AppointmentID: id, Error: err.Error()}
}

// Service books successors for completed recurring appointments.
type Service struct {
	repo        appointments.Repository
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

// NewService wires the continuation service.
func NewService(repo appointments.Repository, allocator codes.Allocator, dir directory.Directory, provider settings.Provider, notifier notify.Notifier, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:        repo,
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

// WithBaseURL sets the app URL used for notification links.
func (s *Service) WithBaseURL(base string) *Service {
	s.baseURL = base
	return s
}

// WithLookback bounds how far back the sweep looks for completed appointments.
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

// CreateNext books the successor of a completed appointment in a recurring
// series. It is idempotent: a second call for the same appointment is a
// no-op. Notification failures never undo the booking.
func (s *Service) CreateNext(ctx context.Context, appt *appointments.Appointment, cfg Config) (res Result) {
	if appt == nil {
		return Result{Error: "recurring: appointment is required"}
	}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("recurring: panic creating next appointment", "appointment_id", appt.ID, "panic", p)
			res = failed(appt.ID, fmt.Errorf("recurring: internal error: %v", p))
		}
	}()

	ctx, span := tracer.Start(ctx, "recurring.create_next")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", appt.TenantID),
		attribute.String("clinic.appointment_id", appt.ID.String()),
	)

	res = s.createNext(ctx, appt, cfg)
	span.SetAttributes(attribute.Bool("recurring.created", res.Created), attribute.String("recurring.reason", res.Reason))
	return res
}

func (s *Service) createNext(ctx context.Context, appt *appointments.Appointment, cfg Config) Result {
	logger := s.logger.WithTenant(appt.TenantID).With("appointment_id", appt.ID)

	st := cfg.Settings
	if st == nil {
		var err error
		if st, err = s.settings.Get(ctx, appt.TenantID); err != nil {
			return failed(appt.ID, fmt.Errorf("recurring: load settings: %w", err))
		}
	}
	if !st.Automation.AutoRecurringAppointments {
		return skipped(appt.ID, ReasonDisabled)
	}
	if appt.Status != appointments.StatusCompleted {
		return skipped(appt.ID, ReasonNotCompleted)
	}

	series, err := s.resolveSeries(ctx, appt, cfg)
	if err != nil {
		return failed(appt.ID, err)
	}
	if series == nil {
		return skipped(appt.ID, ReasonNotRecurring)
	}

	next := recurrence.NextDate(appointments.DateOnly(appt.Date), series.Frequency)

	existing, err := s.repo.FindSuccessor(ctx, appt.TenantID, appt.ID)
	if err != nil {
		return failed(appt.ID, fmt.Errorf("recurring: find successor: %w", err))
	}
	if existing != nil {
		return skipped(appt.ID, ReasonNoOp)
	}
	busy, err := s.repo.ExistsActiveOnDay(ctx, appt.TenantID, appt.PatientID, next)
	if err != nil {
		return failed(appt.ID, fmt.Errorf("recurring: check day: %w", err))
	}
	if busy {
		return skipped(appt.ID, ReasonNoOp)
	}
	if !series.Covers(next) {
		return skipped(appt.ID, ReasonSeriesComplete)
	}

	code, err := s.codes.Next(ctx, appt.TenantID, appointments.CodePrefix)
	if err != nil {
		return failed(appt.ID, fmt.Errorf("recurring: allocate code: %w", err))
	}

	previousID := appt.ID
	seriesID := series.ID
	successor := &appointments.Appointment{
		TenantID:              appt.TenantID,
		Code:                  code,
		PatientID:             appt.PatientID,
		DoctorID:              appt.DoctorID,
		Date:                  next,
		Time:                  appt.Time,
		DurationMinutes:       appt.DurationMinutes,
		Status:                appointments.StatusScheduled,
		Reason:                appt.Reason,
		Notes:                 appt.Notes,
		SeriesID:              &seriesID,
		PreviousAppointmentID: &previousID,
		Source:                appointments.SourceRecurring,
	}
	if err := s.repo.Create(ctx, successor); err != nil {
		if errors.Is(err, appointments.ErrDuplicate) {
			logger.Info("recurring: successor already created concurrently", "date", next.Format("2006-01-02"))
			return skipped(appt.ID, ReasonNoOp)
		}
		return failed(appt.ID, fmt.Errorf("recurring: create successor: %w", err))
	}

	logger.Info("recurring: successor booked", "next_appointment_id", successor.ID, "code", successor.Code, "date", next.Format("2006-01-02"), "frequency", series.Frequency)

	res := Result{Success: true, AppointmentID: appt.ID, Created: true, Next: successor}
	res.Notification = s.notifyPatient(ctx, st, successor)

	s.publisher.Publish(ctx, events.Event{
		Type:     events.EventRecurringCreated,
		TenantID: appt.TenantID,
		EntityID: successor.ID.String(),
		Data: map[string]any{
			"code":                    successor.Code,
			"previous_appointment_id": appt.ID.String(),
			"series_id":               series.ID.String(),
			"date":                    next.Format("2006-01-02"),
		},
	})
	return res
}

// resolveSeries returns the series the appointment belongs to. An unlinked
// appointment whose options or notes name a frequency gets a new series.
func (s *Service) resolveSeries(ctx context.Context, appt *appointments.Appointment, cfg Config) (*appointments.Series, error) {
	if appt.SeriesID != nil {
		series, err := s.repo.GetSeries(ctx, appt.TenantID, *appt.SeriesID)
		if err != nil {
			return nil, fmt.Errorf("recurring: load series: %w", err)
		}
		return series, nil
	}

	freq := cfg.Frequency
	if !freq.Valid() {
		var ok bool
		if freq, ok = recurrence.FrequencyFromNotes(appt.Notes); !ok {
			return nil, nil
		}
	}

	series := &appointments.Series{
		TenantID:  appt.TenantID,
		PatientID: appt.PatientID,
		DoctorID:  appt.DoctorID,
		Frequency: freq,
		StartDate: appointments.DateOnly(appt.Date),
		EndDate:   cfg.EndDate,
		Active:    true,
	}
	if err := s.repo.CreateSeries(ctx, series); err != nil {
		return nil, fmt.Errorf("recurring: create series: %w", err)
	}
	if err := s.repo.AttachSeries(ctx, appt.TenantID, appt.ID, series.ID); err != nil {
		// Another trigger may have linked the appointment first; use its series.
		current, getErr := s.repo.Get(ctx, appt.TenantID, appt.ID)
		if getErr != nil || current.SeriesID == nil {
			return nil, fmt.Errorf("recurring: attach series: %w", err)
		}
		appt.SeriesID = current.SeriesID
		return s.resolveSeries(ctx, appt, cfg)
	}
	id := series.ID
	appt.SeriesID = &id
	return series, nil
}

func (s *Service) notifyPatient(ctx context.Context, st *settings.Settings, appt *appointments.Appointment) notify.Result {
	if s.notifier == nil || s.directory == nil {
		return notify.Result{}
	}
	patient, err := s.directory.Patient(ctx, appt.TenantID, appt.PatientID)
	if err != nil {
		s.logger.Warn("recurring: patient lookup failed; skipping notification", "tenant_id", appt.TenantID, "patient_id", appt.PatientID, "error", err)
		return notify.Result{}
	}
	doctorName, err := s.directory.DoctorName(ctx, appt.TenantID, appt.DoctorID)
	if err != nil {
		doctorName = ""
	}

	env := notify.RecurringCreated(notify.RecurringCreatedData{
		ClinicName:  st.ClinicName,
		PatientName: patient.FirstName,
		DoctorName:  doctorName,
		When:        appt.Describe(),
		Code:        appt.Code,
		ActionURL:   s.actionURL(appt.ID),
	})
	env.TenantID = appt.TenantID
	return s.notifier.Dispatch(ctx, env.For(notify.Recipient{
		UserID: patient.UserID,
		Name:   patient.FullName(),
		Phone:  patient.Phone,
		Email:  patient.Email,
	}))
}

func (s *Service) actionURL(id uuid.UUID) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/appointments/" + id.String()
}
