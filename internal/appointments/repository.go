package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an appointment does not exist for the tenant.
	ErrNotFound = errors.New("appointments: not found")
	// ErrSeriesNotFound is returned when a recurring series does not exist.
	ErrSeriesNotFound = errors.New("appointments: series not found")
	// ErrDuplicate is returned when a uniqueness rule rejects a new appointment:
	// a second successor for the same appointment or series day, a second
	// replacement for the same cancelled slot, or a reused code.
	ErrDuplicate = errors.New("appointments: duplicate appointment")
)

// Repository is the slice of the clinical data store the engine uses.
// An empty tenantID on list methods means all tenants.
type Repository interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error)
	ExistsActiveOnDay(ctx context.Context, tenantID, patientID string, day time.Time) (bool, error)
	Create(ctx context.Context, appt *Appointment) error
	FindSuccessor(ctx context.Context, tenantID string, previousID uuid.UUID) (*Appointment, error)
	FindReplacement(ctx context.Context, tenantID string, cancelledID uuid.UUID) (*Appointment, error)
	ListCompletedRecurring(ctx context.Context, tenantID string, since time.Time) ([]Appointment, error)
	ListCancelledUnfilled(ctx context.Context, tenantID string, since, notBefore time.Time) ([]Appointment, error)
	GetSeries(ctx context.Context, tenantID string, id uuid.UUID) (*Series, error)
	CreateSeries(ctx context.Context, s *Series) error
	AttachSeries(ctx context.Context, tenantID string, appointmentID, seriesID uuid.UUID) error
	HighestCodeNumber(ctx context.Context, tenantID, prefix string) (int64, error)
}
