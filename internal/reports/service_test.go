package reports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicops/internal/archive"
	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type stubBuilder struct {
	mu      sync.Mutex
	periods map[string]Period
	fail    map[string]error
}

func (b *stubBuilder) Build(_ context.Context, tenantID string, p Period) (*Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[tenantID]; err != nil {
		return nil, err
	}
	b.periods[tenantID] = p
	r := &Report{TenantID: tenantID, Period: p, Appointments: AppointmentMetrics{ByStatus: map[string]int64{"completed": 1}}}
	r.Revenue.TotalBilled = decimal.NewFromInt(100)
	r.Revenue.TotalPaid = decimal.NewFromInt(80)
	r.finalize()
	return r, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Envelope
}

func (r *recordingNotifier) Dispatch(_ context.Context, env notify.Envelope) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return notify.Result{EmailSent: true}
}

type recordingArchiver struct {
	records []*archive.ReportRecord
}

func (a *recordingArchiver) ArchiveReport(_ context.Context, rec *archive.ReportRecord) error {
	a.records = append(a.records, rec)
	return nil
}

type fixture struct {
	builder  *stubBuilder
	notifier *recordingNotifier
	settings settings.Static
	store    *tenants.MemoryStore
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemory()
	for _, tid := range []string{"t1", "t2"} {
		dir.AddUser(directory.User{ID: tid + "-admin", TenantID: tid, Name: "Admin", Email: "admin@" + tid + ".test", Role: directory.RoleAdmin})
		dir.AddUser(directory.User{ID: tid + "-acct", TenantID: tid, Name: "Books", Email: "books@" + tid + ".test", Role: directory.RoleAccountant})
		dir.AddUser(directory.User{ID: tid + "-doc", TenantID: tid, Name: "Doc", Email: "doc@" + tid + ".test", Role: directory.RoleDoctor})
	}
	f := &fixture{
		builder:  &stubBuilder{periods: map[string]Period{}, fail: map[string]error{}},
		notifier: &recordingNotifier{},
		settings: settings.Static{},
		store:    tenants.NewMemoryStore(),
	}
	f.svc = NewService(f.builder, f.store, dir, f.settings, f.notifier, logging.Discard())
	f.svc.now = func() time.Time { return time.Date(2024, 4, 8, 6, 0, 0, 0, time.UTC) }
	f.store.Put(tenants.Subscription{TenantID: "t1", Plan: tenants.PlanTrial, Status: tenants.StatusActive})
	f.store.Put(tenants.Subscription{TenantID: "t2", Plan: "pro", Status: tenants.StatusActive})
	return f
}

func TestProcessWeeklyEmailsAdminsAndAccountants(t *testing.T) {
	f := newFixture(t)
	arch := &recordingArchiver{}
	f.svc.WithArchive(arch)

	out := f.svc.ProcessWeekly(context.Background(), "t1")

	require.True(t, out.Success, out.Error)
	assert.Equal(t, 1, out.Processed)
	require.Len(t, f.notifier.sent, 2)
	for _, env := range f.notifier.sent {
		assert.Equal(t, []notify.Channel{notify.ChannelEmail}, env.Channels)
		assert.Contains(t, env.Subject, "Weekly report")
		assert.Contains(t, env.EmailHTML, "100.00")
		assert.NotEqual(t, "doc@t1.test", env.Recipient.Email)
	}
	assert.Equal(t, 2, out.Tenants[0].Recipients)

	p := f.builder.periods["t1"]
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), p.Start)

	require.Len(t, arch.records, 1)
	assert.Equal(t, "weekly", arch.records[0].Kind)
	assert.Contains(t, string(arch.records[0].Metrics), `"total_billed":"100"`)
}

func TestProcessMonthlyAllTenants(t *testing.T) {
	f := newFixture(t)

	out := f.svc.ProcessMonthly(context.Background(), "")

	require.True(t, out.Success, out.Error)
	assert.Equal(t, 2, out.Processed)
	assert.Len(t, f.notifier.sent, 4)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), f.builder.periods["t2"].Start)
}

func TestProcessWeeklyRespectsFlag(t *testing.T) {
	f := newFixture(t)
	st := settings.Default("t1")
	st.Automation.AutoPeriodicReports = false
	f.settings["t1"] = st

	out := f.svc.ProcessWeekly(context.Background(), "")

	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Processed)
	for _, o := range out.Tenants {
		if o.TenantID == "t1" {
			assert.True(t, o.Skipped)
			assert.Equal(t, ReasonDisabled, o.Reason)
		}
	}
	_, built := f.builder.periods["t1"]
	assert.False(t, built)
}

func TestProcessWeeklyIsolatesTenantFailure(t *testing.T) {
	f := newFixture(t)
	f.builder.fail["t1"] = errors.New("reports: patients: timeout")

	out := f.svc.ProcessWeekly(context.Background(), "")

	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Processed, "t2 still gets its report")
	assert.Equal(t, 1, out.Errors)
	assert.Len(t, f.notifier.sent, 2)
}

func TestWithArchiveIgnoresDisabledStore(t *testing.T) {
	f := newFixture(t)
	f.svc.WithArchive(archive.NewStore(nil, "", logging.Discard()))
	assert.Nil(t, f.svc.archiver)
}

func TestProcessMonthlySendsOncePerPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for day := 8; day <= 10; day++ {
		d := day
		f.svc.now = func() time.Time { return time.Date(2024, 4, d, 6, 0, 0, 0, time.UTC) }
		out := f.svc.ProcessMonthly(ctx, "t1")
		require.True(t, out.Success, out.Error)
		if d > 8 {
			assert.Equal(t, 0, out.Processed)
			assert.Equal(t, ReasonAlreadySent, out.Tenants[0].Reason)
		}
	}
	assert.Len(t, f.notifier.sent, 2, "one March report per recipient")

	f.svc.now = func() time.Time { return time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC) }
	out := f.svc.ProcessMonthly(ctx, "t1")
	assert.Equal(t, 1, out.Processed, "April is a new period")
	assert.Len(t, f.notifier.sent, 4)
}

func TestFailedBuildDoesNotClaimRun(t *testing.T) {
	f := newFixture(t)
	f.builder.fail["t1"] = errors.New("timeout")

	out := f.svc.ProcessWeekly(context.Background(), "t1")
	assert.Equal(t, 1, out.Errors)

	delete(f.builder.fail, "t1")
	out = f.svc.ProcessWeekly(context.Background(), "t1")
	assert.Equal(t, 1, out.Processed)
	assert.Len(t, f.notifier.sent, 2)
}

type brokenLedger struct{}

func (brokenLedger) MarkProcessed(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestLedgerFailureSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.svc.WithLedger(brokenLedger{})

	out := f.svc.ProcessWeekly(context.Background(), "t1")

	assert.False(t, out.Success)
	assert.Contains(t, out.Tenants[0].Error, "claim run")
	assert.Empty(t, f.notifier.sent)
}

func TestRunKeyUsesClinicCalendarDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	p, err := Window(KindWeekly, time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC), ny)
	require.NoError(t, err)
	assert.Equal(t, "t1:weekly:2024-04-01", RunKey("t1", KindWeekly, p))
}
