// Package appointments holds the appointment and recurring-series records the
// automation engine reads and creates.
package appointments

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/clinicops/internal/recurrence"
)

// CodePrefix is the sequential code prefix for appointments.
const CodePrefix = "APT"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

// Active reports whether the status is non-terminal.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Source records which flow created an appointment.
type Source string

const (
	SourceBooking   Source = "booking"
	SourceRecurring Source = "recurring"
	SourceWaitlist  Source = "waitlist"
)

// Appointment is a single booked visit.
type Appointment struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              string     `json:"tenant_id"`
	Code                  string     `json:"code"`
	PatientID             string     `json:"patient_id"`
	DoctorID              string     `json:"doctor_id"`
	Date                  time.Time  `json:"date"` // civil date at UTC midnight
	Time                  string     `json:"time"` // "15:04"
	DurationMinutes       int        `json:"duration_minutes"`
	Status                Status     `json:"status"`
	Reason                string     `json:"reason,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	SeriesID              *uuid.UUID `json:"series_id,omitempty"`
	PreviousAppointmentID *uuid.UUID `json:"previous_appointment_id,omitempty"`
	ReplacesAppointmentID *uuid.UUID `json:"replaces_appointment_id,omitempty"`
	Source                Source     `json:"source"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// StartsAt combines Date and Time in loc. An unparsable Time yields midnight.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := a.Date.Date()
	clock, err := time.Parse("15:04", a.Time)
	if err != nil {
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc)
}

// Describe renders "Mon Jan 2 at 15:04" for notifications.
func (a *Appointment) Describe() string {
	if a.Time == "" {
		return a.Date.Format("Mon Jan 2")
	}
	return fmt.Sprintf("%s at %s", a.Date.Format("Mon Jan 2"), a.Time)
}

// Series is the structured configuration of a recurring appointment sequence.
type Series struct {
	ID        uuid.UUID            `json:"id"`
	TenantID  string               `json:"tenant_id"`
	PatientID string               `json:"patient_id"`
	DoctorID  string               `json:"doctor_id"`
	Frequency recurrence.Frequency `json:"frequency"`
	StartDate time.Time            `json:"start_date"`
	EndDate   *time.Time           `json:"end_date,omitempty"`
	Active    bool                 `json:"active"`
	CreatedAt time.Time            `json:"created_at"`
}

// Covers reports whether next still falls within the series.
func (s *Series) Covers(next time.Time) bool {
	if !s.Active {
		return false
	}
	if s.EndDate == nil {
		return true
	}
	return !DateOnly(next).After(DateOnly(*s.EndDate))
}

// DateOnly truncates t to its civil date at UTC midnight.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
