package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStatusActive(t *testing.T) {
	assert.True(t, StatusScheduled.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.False(t, StatusCompleted.Active())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, StatusNoShow.Active())
}

func TestStartsAt(t *testing.T) {
	a := Appointment{Date: day(2024, 3, 5), Time: "14:30"}
	assert.Equal(t, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), a.StartsAt(nil))

	a.Time = "bogus"
	assert.Equal(t, day(2024, 3, 5), a.StartsAt(time.UTC))
}

func TestSeriesCovers(t *testing.T) {
	end := day(2024, 6, 30)
	s := Series{Active: true, EndDate: &end}
	assert.True(t, s.Covers(day(2024, 6, 30)))
	assert.False(t, s.Covers(day(2024, 7, 1)))

	s.EndDate = nil
	assert.True(t, s.Covers(day(2030, 1, 1)))

	s.Active = false
	assert.False(t, s.Covers(day(2024, 1, 1)))
}

func TestMemoryRepositoryRejectsSecondSuccessor(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	prev := uuid.New()

	first := &Appointment{TenantID: "t1", Code: "APT-000001", PatientID: "p1", Date: day(2024, 3, 12), PreviousAppointmentID: &prev}
	require.NoError(t, repo.Create(ctx, first))

	prevCopy := prev
	second := &Appointment{TenantID: "t1", Code: "APT-000002", PatientID: "p1", Date: day(2024, 3, 12), PreviousAppointmentID: &prevCopy}
	err := repo.Create(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, repo.All("t1"), 1)
}

func TestMemoryRepositoryRejectsSecondReplacement(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	cancelled := uuid.New()

	require.NoError(t, repo.Create(ctx, &Appointment{TenantID: "t1", Code: "APT-000010", ReplacesAppointmentID: &cancelled}))
	err := repo.Create(ctx, &Appointment{TenantID: "t1", Code: "APT-000011", ReplacesAppointmentID: &cancelled})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := repo.FindReplacement(ctx, "t1", cancelled)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "APT-000010", found.Code)

	other, err := repo.FindReplacement(ctx, "t2", cancelled)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMemoryRepositoryListsCompletedRecurringWithoutSuccessor(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	series := uuid.New()

	done := Appointment{ID: uuid.New(), TenantID: "t1", PatientID: "p1", Date: day(2024, 3, 5), Status: StatusCompleted, SeriesID: &series, CompletedAt: &now}
	notes := Appointment{ID: uuid.New(), TenantID: "t1", PatientID: "p2", Date: day(2024, 3, 6), Status: StatusCompleted, Notes: "Monthly check", CompletedAt: &now}
	oneOff := Appointment{ID: uuid.New(), TenantID: "t1", PatientID: "p3", Date: day(2024, 3, 7), Status: StatusCompleted, CompletedAt: &now}
	followed := Appointment{ID: uuid.New(), TenantID: "t1", PatientID: "p4", Date: day(2024, 3, 8), Status: StatusCompleted, SeriesID: &series, CompletedAt: &now}
	for _, a := range []Appointment{done, notes, oneOff, followed} {
		repo.Put(a)
	}
	prev := followed.ID
	repo.Put(Appointment{TenantID: "t1", PatientID: "p4", Date: day(2024, 3, 15), Status: StatusScheduled, PreviousAppointmentID: &prev})

	list, err := repo.ListCompletedRecurring(ctx, "t1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, done.ID, list[0].ID)
	assert.Equal(t, notes.ID, list[1].ID)

	list, err = repo.ListCompletedRecurring(ctx, "t2", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryRepositoryHighestCodeNumberIsTenantScoped(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Put(Appointment{TenantID: "tenantA", Code: "APT-000041"})
	repo.Put(Appointment{TenantID: "tenantB", Code: "APT-000900"})

	n, err := repo.HighestCodeNumber(context.Background(), "tenantA", "APT")
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)
}

// insertArgs matches the 19 columns Create writes.
func insertArgs() []any {
	args := make([]any, 19)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresCreateMapsUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(insertArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_previous_uniq"})

	err = repo.Create(context.Background(), &Appointment{TenantID: "t1", Code: "APT-000002", Date: day(2024, 3, 12)})
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateWrapsOtherErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(insertArgs()...).
		WillReturnError(errors.New("connection reset"))

	err = repo.Create(context.Background(), &Appointment{TenantID: "t1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicate))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	id := uuid.New()
	mock.ExpectQuery("FROM appointments WHERE tenant_id").WithArgs("t1", id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = repo.Get(context.Background(), "t1", id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExistsActiveOnDay(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1", "p1", day(2024, 3, 12)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.ExistsActiveOnDay(context.Background(), "t1", "p1", time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHighestCodeNumber(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	mock.ExpectQuery("SELECT COALESCE").WithArgs("tenantA", "APT-%").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(41)))

	n, err := repo.Seeder()(context.Background(), "tenantA", "APT")
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)
}
