package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/clinicops/internal/codes"
	"github.com/wolfman30/clinicops/internal/recurrence"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const appointmentColumns = `id, tenant_id, code, patient_id, doctor_id, date, time, duration_minutes, status,
	reason, notes, series_id, previous_appointment_id, replaces_appointment_id, source,
	completed_at, cancelled_at, created_at, updated_at`

// PostgresRepository reads and writes the appointments and recurring_series tables.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository over db.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("appointments: db required")
	}
	return &PostgresRepository{db: db}
}

// Get loads an appointment by id within a tenant.
func (r *PostgresRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	defer rows.Close()
	list, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// ExistsActiveOnDay reports whether the patient already holds a scheduled or
// confirmed appointment on day.
func (r *PostgresRepository) ExistsActiveOnDay(ctx context.Context, tenantID, patientID string, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE tenant_id = $1 AND patient_id = $2 AND date = $3
			  AND status IN ('scheduled', 'confirmed')
		)`, tenantID, patientID, DateOnly(day)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("appointments: exists on day: %w", err)
	}
	return exists, nil
}

// Create inserts appt. Unique-index violations map to ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, appt *Appointment) error {
	prepareForCreate(appt)
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		appt.ID, appt.TenantID, appt.Code, appt.PatientID, appt.DoctorID, appt.Date, appt.Time,
		appt.DurationMinutes, string(appt.Status), appt.Reason, appt.Notes, appt.SeriesID,
		appt.PreviousAppointmentID, appt.ReplacesAppointmentID, string(appt.Source),
		appt.CompletedAt, appt.CancelledAt, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// FindSuccessor returns the appointment generated from previousID, or nil.
func (r *PostgresRepository) FindSuccessor(ctx context.Context, tenantID string, previousID uuid.UUID) (*Appointment, error) {
	return r.findOne(ctx, "find successor", `SELECT `+appointmentColumns+`
		FROM appointments WHERE tenant_id = $1 AND previous_appointment_id = $2 LIMIT 1`, tenantID, previousID)
}

// FindReplacement returns the appointment that refilled cancelledID, or nil.
func (r *PostgresRepository) FindReplacement(ctx context.Context, tenantID string, cancelledID uuid.UUID) (*Appointment, error) {
	return r.findOne(ctx, "find replacement", `SELECT `+appointmentColumns+`
		FROM appointments WHERE tenant_id = $1 AND replaces_appointment_id = $2 LIMIT 1`, tenantID, cancelledID)
}

func (r *PostgresRepository) findOne(ctx context.Context, op, sql string, args ...any) (*Appointment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: %s: %w", op, err)
	}
	defer rows.Close()
	list, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ListCompletedRecurring returns completed appointments since the cutoff that
// belong to a series or carry a frequency in their notes, and have no successor yet.
func (r *PostgresRepository) ListCompletedRecurring(ctx context.Context, tenantID string, since time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE ($1 = '' OR a.tenant_id = $1)
		  AND a.status = 'completed'
		  AND COALESCE(a.completed_at, a.updated_at) >= $2
		  AND (a.series_id IS NOT NULL OR a.notes ~* '(weekly|fortnightly|monthly|quarterly|yearly|annual)')
		  AND NOT EXISTS (SELECT 1 FROM appointments s WHERE s.previous_appointment_id = a.id)
		ORDER BY a.tenant_id, a.date`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("appointments: list completed recurring: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListCancelledUnfilled returns appointments cancelled since the cutoff whose
// slot is on or after notBefore and has no replacement.
func (r *PostgresRepository) ListCancelledUnfilled(ctx context.Context, tenantID string, since, notBefore time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE ($1 = '' OR a.tenant_id = $1)
		  AND a.status = 'cancelled'
		  AND COALESCE(a.cancelled_at, a.updated_at) >= $2
		  AND a.date >= $3
		  AND NOT EXISTS (SELECT 1 FROM appointments s WHERE s.replaces_appointment_id = a.id)
		ORDER BY a.tenant_id, a.date, a.time`, tenantID, since, DateOnly(notBefore))
	if err != nil {
		return nil, fmt.Errorf("appointments: list cancelled unfilled: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// GetSeries loads a recurring series.
func (r *PostgresRepository) GetSeries(ctx context.Context, tenantID string, id uuid.UUID) (*Series, error) {
	var s Series
	var freq string
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, patient_id, doctor_id, frequency, start_date, end_date, active, created_at
		FROM recurring_series WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&s.ID, &s.TenantID, &s.PatientID, &s.DoctorID, &freq, &s.StartDate, &s.EndDate, &s.Active, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSeriesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get series: %w", err)
	}
	s.Frequency = recurrence.Frequency(freq)
	return &s, nil
}

// CreateSeries inserts a recurring series.
func (r *PostgresRepository) CreateSeries(ctx context.Context, s *Series) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO recurring_series (id, tenant_id, patient_id, doctor_id, frequency, start_date, end_date, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.TenantID, s.PatientID, s.DoctorID, string(s.Frequency), DateOnly(s.StartDate), s.EndDate, s.Active, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("appointments: create series: %w", err)
	}
	return nil
}

// AttachSeries links an existing appointment to a series.
func (r *PostgresRepository) AttachSeries(ctx context.Context, tenantID string, appointmentID, seriesID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET series_id = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND series_id IS NULL`, tenantID, appointmentID, seriesID)
	if err != nil {
		return fmt.Errorf("appointments: attach series: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HighestCodeNumber returns the largest numeric suffix among the tenant's codes
// with prefix. It seeds the code counter.
func (r *PostgresRepository) HighestCodeNumber(ctx context.Context, tenantID, prefix string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(substring(code FROM '([0-9]+)$') AS BIGINT)), 0)
		FROM appointments
		WHERE tenant_id = $1 AND code LIKE $2`, tenantID, prefix+"-%").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("appointments: highest code: %w", err)
	}
	return n, nil
}

// Seeder adapts HighestCodeNumber to codes.Seeder.
func (r *PostgresRepository) Seeder() codes.Seeder {
	return r.HighestCodeNumber
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		var a Appointment
		var status, source string
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.Code, &a.PatientID, &a.DoctorID, &a.Date, &a.Time,
			&a.DurationMinutes, &status, &a.Reason, &a.Notes, &a.SeriesID,
			&a.PreviousAppointmentID, &a.ReplacesAppointmentID, &source,
			&a.CompletedAt, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		a.Status = Status(status)
		a.Source = Source(source)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: rows: %w", err)
	}
	return result, nil
}

func prepareForCreate(appt *Appointment) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	if appt.Source == "" {
		appt.Source = SourceBooking
	}
	appt.Date = DateOnly(appt.Date)
}

var _ Repository = (*PostgresRepository)(nil)
