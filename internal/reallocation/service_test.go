package reallocation

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
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/waitlist"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Envelope
}

func (r *recordingNotifier) Dispatch(_ context.Context, env notify.Envelope) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return notify.Result{SMSSent: env.Recipient.Phone != ""}
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
	waitlist  *waitlist.MemoryStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	settings  settings.Static
	svc       *Service
}

var slotDate = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := appointments.NewMemoryRepository()
	dir := directory.NewMemory()
	for _, id := range []string{"p-low", "p-high", "p-doc"} {
		dir.AddPatient(directory.Patient{ID: id, TenantID: "t1", FirstName: id, Phone: "+1555" + id})
	}
	dir.AddDoctor("t1", "d1", "Dr. Okafor")

	f := &fixture{
		repo:      repo,
		waitlist:  waitlist.NewMemoryStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		settings:  settings.Static{"t1": settings.Default("t1")},
	}
	f.svc = NewService(repo, f.waitlist, codes.NewMemoryAllocator(repo.HighestCodeNumber), dir, f.settings, f.notifier, logging.Discard()).
		WithPublisher(f.publisher)
	f.svc.now = func() time.Time { return time.Date(2024, 4, 8, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) cancelled(t *testing.T) appointments.Appointment {
	t.Helper()
	at := time.Date(2024, 4, 8, 8, 0, 0, 0, time.UTC)
	appt := appointments.Appointment{
		ID:              uuid.New(),
		TenantID:        "t1",
		Code:            "APT-000010",
		PatientID:       "p-orig",
		DoctorID:        "d1",
		Date:            slotDate,
		Time:            "09:15",
		DurationMinutes: 30,
		Status:          appointments.StatusCancelled,
		Reason:          "cleaning",
		CancelledAt:     &at,
	}
	f.repo.Put(appt)
	return appt
}

func (f *fixture) wait(t *testing.T, e waitlist.Entry) {
	t.Helper()
	e.TenantID = "t1"
	require.NoError(t, f.waitlist.Add(context.Background(), e))
}

func TestFillCancelledSlotPicksHighestPriority(t *testing.T) {
	f := newFixture(t)
	appt := f.cancelled(t)
	t0 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	f.wait(t, waitlist.Entry{PatientID: "p-low", Priority: 3, CreatedAt: t0})
	f.wait(t, waitlist.Entry{PatientID: "p-high", Priority: 5, CreatedAt: t0.Add(time.Hour)})

	res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)

	require.True(t, res.Success, res.Error)
	require.True(t, res.Filled)
	assert.Equal(t, "p-high", res.PatientID)

	r := res.Replacement
	require.NotNil(t, r)
	assert.Equal(t, "APT-000011", r.Code)
	assert.Equal(t, slotDate, r.Date)
	assert.Equal(t, "09:15", r.Time)
	assert.Equal(t, "d1", r.DoctorID)
	assert.Equal(t, 30, r.DurationMinutes)
	assert.Equal(t, appointments.StatusScheduled, r.Status)
	assert.Equal(t, appointments.SourceWaitlist, r.Source)
	require.NotNil(t, r.ReplacesAppointmentID)
	assert.Equal(t, appt.ID, *r.ReplacesAppointmentID)

	remaining, err := f.waitlist.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "p-low", remaining[0].PatientID)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.TypeSlotOffered, f.notifier.sent[0].InApp.Type)
	assert.True(t, res.Notification.SMSSent)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.EventWaitlistFilled, f.publisher.events[0].Type)
}

func TestFillCancelledSlotIsIdempotent(t *testing.T) {
	f := newFixture(t)
	appt := f.cancelled(t)
	f.wait(t, waitlist.Entry{PatientID: "p-low", Priority: 1})
	f.wait(t, waitlist.Entry{PatientID: "p-high", Priority: 2})

	first := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)
	require.True(t, first.Filled)

	second := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)
	assert.True(t, second.Success)
	assert.False(t, second.Filled)
	assert.Equal(t, ReasonAlreadyFilled, second.Reason)

	remaining, _ := f.waitlist.List(context.Background(), "t1")
	assert.Len(t, remaining, 1, "a duplicate trigger must not consume another entry")
}

func TestFillCancelledSlotConcurrentTriggers(t *testing.T) {
	f := newFixture(t)
	appt := f.cancelled(t)
	f.wait(t, waitlist.Entry{PatientID: "p-low", Priority: 1})
	f.wait(t, waitlist.Entry{PatientID: "p-high", Priority: 2})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)
			assert.True(t, res.Success, res.Error)
		}()
	}
	wg.Wait()

	var replacements int
	for _, a := range f.repo.All("t1") {
		if a.ReplacesAppointmentID != nil {
			replacements++
		}
	}
	assert.Equal(t, 1, replacements)

	remaining, _ := f.waitlist.List(context.Background(), "t1")
	assert.Len(t, remaining, 1, "losers of the race put their entry back")
}

func TestFillCancelledSlotRespectsDoctorConstraint(t *testing.T) {
	f := newFixture(t)
	appt := f.cancelled(t)
	f.wait(t, waitlist.Entry{PatientID: "p-high", Priority: 9, DoctorID: "d2"})
	f.wait(t, waitlist.Entry{PatientID: "p-doc", Priority: 1, DoctorID: "d1"})

	res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)

	require.True(t, res.Filled)
	assert.Equal(t, "p-doc", res.PatientID)
}

func TestFillCancelledSlotOutcomes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		appt := f.cancelled(t)
		f.settings["t1"].Automation.AutoWaitlistManagement = false
		f.wait(t, waitlist.Entry{PatientID: "p-low"})

		res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)
		assert.True(t, res.Success)
		assert.Equal(t, ReasonDisabled, res.Reason)
	})

	t.Run("not cancelled", func(t *testing.T) {
		f := newFixture(t)
		appt := f.cancelled(t)
		appt.Status = appointments.StatusScheduled
		f.repo.Put(appt)

		res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)
		assert.True(t, res.Success)
		assert.Equal(t, ReasonNotCancelled, res.Reason)
	})

	t.Run("no match", func(t *testing.T) {
		f := newFixture(t)
		appt := f.cancelled(t)
		far := slotDate.AddDate(0, 0, 8)
		f.wait(t, waitlist.Entry{PatientID: "p-low", PreferredDate: &far})

		res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)
		assert.True(t, res.Success)
		assert.Equal(t, ReasonNoMatch, res.Reason)
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)

		res := f.svc.FillCancelledSlot(context.Background(), "t1", uuid.New())
		assert.False(t, res.Success)
		assert.Equal(t, ErrAppointmentNotFound.Error(), res.Error)
	})

	t.Run("other tenant", func(t *testing.T) {
		f := newFixture(t)
		appt := f.cancelled(t)

		res := f.svc.FillCancelledSlot(context.Background(), "t2", appt.ID)
		assert.False(t, res.Success)
	})
}

type brokenCreateRepo struct {
	*appointments.MemoryRepository
}

func (brokenCreateRepo) Create(context.Context, *appointments.Appointment) error {
	return errors.New("disk full")
}

func TestFillCancelledSlotRestoresEntryWhenBookingFails(t *testing.T) {
	f := newFixture(t)
	appt := f.cancelled(t)
	f.wait(t, waitlist.Entry{PatientID: "p-high", Priority: 5})
	f.svc.repo = brokenCreateRepo{f.repo}

	res := f.svc.FillCancelledSlot(context.Background(), "t1", appt.ID)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")
	remaining, _ := f.waitlist.List(context.Background(), "t1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "p-high", remaining[0].PatientID)
}

func TestProcessWaitlistFills(t *testing.T) {
	f := newFixture(t)
	first := f.cancelled(t)
	second := f.cancelled(t)
	past := f.cancelled(t)
	past.Date = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	f.repo.Put(past)
	f.wait(t, waitlist.Entry{PatientID: "p-high", Priority: 5})

	out := f.svc.ProcessWaitlistFills(context.Background(), "")

	assert.Empty(t, out.Error)
	assert.Equal(t, 2, out.Processed, "past slots are not offered")
	assert.Equal(t, 1, out.Filled)
	assert.Equal(t, 0, out.Errors)

	ids := map[uuid.UUID]bool{}
	for _, r := range out.Results {
		ids[r.AppointmentID] = true
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}
