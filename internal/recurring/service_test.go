package recurring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/codes"
	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/events"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/internal/recurrence"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []notify.Envelope
	result notify.Result
}

func (r *recordingNotifier) Dispatch(_ context.Context, env notify.Envelope) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return r.result
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

type fixture struct {
	repo      *appointments.MemoryRepository
	notifier  *recordingNotifier
	publisher *recordingPublisher
	settings  settings.Static
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := appointments.NewMemoryRepository()
	dir := directory.NewMemory()
	dir.AddPatient(directory.Patient{ID: "p1", TenantID: "t1", FirstName: "Ana", LastName: "Silva", Phone: "+15550001", Email: "ana@example.com", UserID: "u-p1"})
	dir.AddDoctor("t1", "d1", "Dr. Reyes")

	f := &fixture{
		repo:      repo,
		notifier:  &recordingNotifier{result: notify.Result{SMSSent: true, EmailSent: true}},
		publisher: &recordingPublisher{},
		settings:  settings.Static{"t1": settings.Default("t1")},
	}
	f.settings["t1"].ClinicName = "Bright Smiles"
	f.svc = NewService(repo, codes.NewMemoryAllocator(repo.HighestCodeNumber), dir, f.settings, f.notifier, logging.Discard()).
		WithPublisher(f.publisher).
		WithBaseURL("https://app.example.com")
	return f
}

func completed(t *testing.T, repo *appointments.MemoryRepository, notes string) appointments.Appointment {
	t.Helper()
	now := time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)
	appt := appointments.Appointment{
		ID:              uuid.New(),
		TenantID:        "t1",
		Code:            "APT-000041",
		PatientID:       "p1",
		DoctorID:        "d1",
		Date:            time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Time:            "14:30",
		DurationMinutes: 45,
		Status:          appointments.StatusCompleted,
		Reason:          "physio",
		Notes:           notes,
		Source:          appointments.SourceBooking,
		CompletedAt:     &now,
	}
	repo.Put(appt)
	return appt
}

func TestCreateNextBooksSuccessorFromNotes(t *testing.T) {
	f := newFixture(t)
	appt := completed(t, f.repo, "Weekly physio session")

	res := f.svc.CreateNext(context.Background(), &appt, Config{})

	require.True(t, res.Success, res.Error)
	require.True(t, res.Created)
	require.NotNil(t, res.Next)
	next := res.Next
	assert.Equal(t, "APT-000042", next.Code)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), next.Date)
	assert.Equal(t, "14:30", next.Time)
	assert.Equal(t, 45, next.DurationMinutes)
	assert.Equal(t, "d1", next.DoctorID)
	assert.Equal(t, "physio", next.Reason)
	assert.Equal(t, appointments.StatusScheduled, next.Status)
	assert.Equal(t, appointments.SourceRecurring, next.Source)
	require.NotNil(t, next.PreviousAppointmentID)
	assert.Equal(t, appt.ID, *next.PreviousAppointmentID)
	require.NotNil(t, next.SeriesID)

	series, err := f.repo.GetSeries(context.Background(), "t1", *next.SeriesID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.Weekly, series.Frequency)

	stored, err := f.repo.Get(context.Background(), "t1", appt.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SeriesID, "the completed appointment is linked to the new series")
	assert.Equal(t, *next.SeriesID, *stored.SeriesID)

	require.Len(t, f.notifier.sent, 1)
	env := f.notifier.sent[0]
	assert.Equal(t, "+15550001", env.Recipient.Phone)
	assert.Contains(t, env.SMSBody, "Dr. Reyes")
	assert.Contains(t, env.InApp.ActionURL, next.ID.String())
	assert.True(t, res.Notification.SMSSent)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.EventRecurringCreated, f.publisher.events[0].Type)
}

func TestCreateNextIsIdempotent(t *testing.T) {
	f := newFixture(t)
	appt := completed(t, f.repo, "monthly check-in")

	first := f.svc.CreateNext(context.Background(), &appt, Config{})
	require.True(t, first.Created)

	again := f.svc.CreateNext(context.Background(), &appt, Config{})
	assert.True(t, again.Success)
	assert.False(t, again.Created)
	assert.Equal(t, ReasonNoOp, again.Reason)

	assert.Len(t, f.repo.All("t1"), 2)
	assert.Len(t, f.notifier.sent, 1)
}

func TestCreateNextConcurrentTriggersCreateOneSuccessor(t *testing.T) {
	f := newFixture(t)
	appt := completed(t, f.repo, "weekly")
	seriesID := uuid.New()
	require.NoError(t, f.repo.CreateSeries(context.Background(), &appointments.Series{ID: seriesID, TenantID: "t1", PatientID: "p1", Frequency: recurrence.Weekly, Active: true}))
	require.NoError(t, f.repo.AttachSeries(context.Background(), "t1", appt.ID, seriesID))
	appt.SeriesID = &seriesID

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := appt
			res := f.svc.CreateNext(context.Background(), &a, Config{})
			assert.True(t, res.Success, res.Error)
		}()
	}
	wg.Wait()

	assert.Len(t, f.repo.All("t1"), 2)
}

func TestCreateNextSkips(t *testing.T) {
	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(f *fixture, a *appointments.Appointment) Config
		reason string
	}{
		{
			name: "automation disabled",
			mutate: func(f *fixture, a *appointments.Appointment) Config {
				f.settings["t1"].Automation.AutoRecurringAppointments = false
				return Config{}
			},
			reason: ReasonDisabled,
		},
		{
			name: "not completed",
			mutate: func(f *fixture, a *appointments.Appointment) Config {
				a.Status = appointments.StatusConfirmed
				return Config{}
			},
			reason: ReasonNotCompleted,
		},
		{
			name: "no frequency",
			mutate: func(f *fixture, a *appointments.Appointment) Config {
				a.Notes = "follow-up as needed"
				return Config{}
			},
			reason: ReasonNotRecurring,
		},
		{
			name: "series ended",
			mutate: func(f *fixture, a *appointments.Appointment) Config {
				return Config{Frequency: recurrence.Weekly, EndDate: &end}
			},
			reason: ReasonSeriesComplete,
		},
		{
			name: "patient already booked that day",
			mutate: func(f *fixture, a *appointments.Appointment) Config {
				f.repo.Put(appointments.Appointment{TenantID: "t1", PatientID: "p1", Date: time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), Status: appointments.StatusConfirmed})
				return Config{}
			},
			reason: ReasonNoOp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			appt := completed(t, f.repo, "weekly")
			cfg := tt.mutate(f, &appt)

			res := f.svc.CreateNext(context.Background(), &appt, cfg)

			assert.True(t, res.Success, res.Error)
			assert.True(t, res.Skipped)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, f.notifier.sent)
		})
	}
}

type failingRepo struct {
	*appointments.MemoryRepository
}

func (failingRepo) FindSuccessor(context.Context, string, uuid.UUID) (*appointments.Appointment, error) {
	return nil, errors.New("connection reset")
}

func TestCreateNextStoreFailureIsStructured(t *testing.T) {
	f := newFixture(t)
	appt := completed(t, f.repo, "weekly")
	f.svc.repo = failingRepo{f.repo}

	res := f.svc.CreateNext(context.Background(), &appt, Config{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection reset")
}

type panickingRepo struct {
	*appointments.MemoryRepository
}

func (panickingRepo) ExistsActiveOnDay(context.Context, string, string, time.Time) (bool, error) {
	panic("nil pointer")
}

func TestCreateNextRecoversPanics(t *testing.T) {
	f := newFixture(t)
	appt := completed(t, f.repo, "weekly")
	f.svc.repo = panickingRepo{f.repo}

	res := f.svc.CreateNext(context.Background(), &appt, Config{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "internal error")
}

func TestCreateNextNotificationFailureKeepsAppointment(t *testing.T) {
	f := newFixture(t)
	f.notifier.result = notify.Result{}
	appt := completed(t, f.repo, "biweekly")

	res := f.svc.CreateNext(context.Background(), &appt, Config{})

	require.True(t, res.Created)
	assert.False(t, res.Notification.Any())
	assert.Len(t, f.repo.All("t1"), 2)
}

func TestProcessRecurringSweep(t *testing.T) {
	f := newFixture(t)
	f.svc.now = func() time.Time { return time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC) }
	completed(t, f.repo, "weekly")
	completed(t, f.repo, "quarterly review")
	completed(t, f.repo, "one-off")

	out := f.svc.ProcessRecurring(context.Background(), "t1")

	assert.Empty(t, out.Error)
	assert.Equal(t, 2, out.Processed)
	assert.Equal(t, 0, out.Errors)
	assert.Equal(t, 2, out.Created)

	rerun := f.svc.ProcessRecurring(context.Background(), "t1")
	assert.Equal(t, 0, rerun.Created)
}
