package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinicops/internal/archive"
	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Builder produces the metrics for one tenant and period.
type Builder interface {
	Build(ctx context.Context, tenantID string, period Period) (*Report, error)
}

// Archiver keeps a copy of every sent report.
type Archiver interface {
	ArchiveReport(ctx context.Context, rec *archive.ReportRecord) error
}

// TenantOutcome is the per-tenant part of a report run.
type TenantOutcome struct {
	TenantID   string `json:"tenant_id"`
	Sent       bool   `json:"sent"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Recipients int    `json:"recipients"`
	Error      string `json:"error,omitempty"`
}

// Result aggregates one ProcessWeekly or ProcessMonthly run. Processed
// counts tenants whose report was built and dispatched.
type Result struct {
	Success   bool            `json:"success"`
	Processed int             `json:"processed"`
	Errors    int             `json:"errors"`
	Tenants   []TenantOutcome `json:"tenants"`
	Error     string          `json:"error,omitempty"`
}

const (
	ReasonDisabled    = "automation disabled"
	ReasonAlreadySent = "report already sent for period"
)

// RunLedger claims a (tenant, kind, period) report run. MarkProcessed returns
// false when the run was already claimed. events.ProcessedStore satisfies it.
type RunLedger interface {
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

const ledgerSource = "reports"

// RunKey identifies one tenant's report for one period.
func RunKey(tenantID string, kind Kind, p Period) string {
	from, _ := p.Dates()
	return tenantID + ":" + string(kind) + ":" + from
}

type memoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (l *memoryLedger) MarkProcessed(_ context.Context, source, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := source + "/" + eventID
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

// Service builds, sends and archives periodic reports.
type Service struct {
	builder   Builder
	tenants   tenants.Store
	directory directory.Directory
	settings  settings.Provider
	notifier  notify.Notifier
	archiver  Archiver
	ledger    RunLedger
	metrics   *metrics.AutomationMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(builder Builder, store tenants.Store, dir directory.Directory, provider settings.Provider, notifier notify.Notifier, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		builder:   builder,
		tenants:   store,
		directory: dir,
		settings:  provider,
		notifier:  notifier,
		ledger:    &memoryLedger{seen: map[string]struct{}{}},
		logger:    logger,
		now:       time.Now,
	}
}

// WithArchive stores every dispatched report. A disabled archive is ignored.
func (s *Service) WithArchive(a Archiver) *Service {
	if st, ok := a.(*archive.Store); ok && !st.Enabled() {
		return s
	}
	s.archiver = a
	return s
}

// WithLedger replaces the in-process run ledger with a shared one so reports
// are sent once per period across restarts and instances.
func (s *Service) WithLedger(l RunLedger) *Service {
	if l != nil {
		s.ledger = l
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.AutomationMetrics) *Service {
	s.metrics = m
	return s
}

// ProcessWeekly sends last week's report. An empty tenantID covers every
// active tenant.
func (s *Service) ProcessWeekly(ctx context.Context, tenantID string) Result {
	return s.process(ctx, KindWeekly, tenantID)
}

// ProcessMonthly sends last month's report. An empty tenantID covers every
// active tenant.
func (s *Service) ProcessMonthly(ctx context.Context, tenantID string) Result {
	return s.process(ctx, KindMonthly, tenantID)
}

func (s *Service) process(ctx context.Context, kind Kind, tenantID string) (out Result) {
	job := string(kind) + "_reports"
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("reports: panic", "kind", kind, "tenant_id", tenantID, "panic", p)
			out = Result{Tenants: out.Tenants, Error: fmt.Sprintf("reports: internal error: %v", p)}
		}
		var err error
		if out.Error != "" {
			err = errors.New(out.Error)
		}
		s.metrics.ObserveSweep(job, err, time.Since(start))
		s.metrics.ObserveSweepItems(job, "sent", out.Processed)
		s.metrics.ObserveSweepItems(job, "error", out.Errors)
	}()

	ids, err := s.tenantIDs(ctx, tenantID)
	if err != nil {
		s.logger.Error("reports: list tenants failed", "kind", kind, "error", err)
		return Result{Tenants: []TenantOutcome{}, Error: err.Error()}
	}

	out = Result{Tenants: make([]TenantOutcome, 0, len(ids))}
	// Tenants run one at a time; each build already fans out its queries.
	for _, id := range ids {
		if ctx.Err() != nil {
			out.Error = ctx.Err().Error()
			break
		}
		o := s.processTenant(ctx, kind, id)
		out.Tenants = append(out.Tenants, o)
		switch {
		case o.Error != "":
			out.Errors++
		case o.Sent:
			out.Processed++
		}
	}
	if out.Error == "" && out.Errors > 0 {
		out.Error = fmt.Sprintf("%d of %d tenant reports failed", out.Errors, len(ids))
	}
	out.Success = out.Error == ""
	s.logger.Info("reports: run finished", "kind", kind, "tenant_id", tenantID, "processed", out.Processed, "errors", out.Errors)
	return out
}

func (s *Service) tenantIDs(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID != "" {
		return []string{tenantID}, nil
	}
	subs, err := s.tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("reports: list tenants: %w", err)
	}
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.TenantID)
	}
	return ids, nil
}

func (s *Service) processTenant(ctx context.Context, kind Kind, tenantID string) (o TenantOutcome) {
	o.TenantID = tenantID
	logger := s.logger.WithTenant(tenantID).With("kind", kind)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("reports: panic building tenant report", "panic", p)
			o = TenantOutcome{TenantID: tenantID, Error: fmt.Sprintf("reports: internal error: %v", p)}
		}
	}()

	st, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		o.Error = fmt.Sprintf("reports: load settings: %v", err)
		return o
	}
	if !st.Automation.AutoPeriodicReports {
		o.Skipped, o.Reason = true, ReasonDisabled
		return o
	}

	period, err := Window(kind, s.now(), st.Location())
	if err != nil {
		o.Error = err.Error()
		return o
	}
	report, err := s.builder.Build(ctx, tenantID, period)
	if err != nil {
		logger.Error("reports: build failed", "error", err)
		o.Error = err.Error()
		return o
	}
	report.ClinicName = st.ClinicName
	report.GeneratedAt = s.now().UTC()

	rendered, err := Render(report)
	if err != nil {
		o.Error = err.Error()
		return o
	}

	recipients, err := s.directory.UsersByRole(ctx, tenantID, directory.RoleAdmin, directory.RoleAccountant)
	if err != nil {
		o.Error = fmt.Sprintf("reports: list recipients: %v", err)
		return o
	}

	// Claimed right before dispatch so a failed build or lookup is retried.
	claimed, err := s.ledger.MarkProcessed(ctx, ledgerSource, RunKey(tenantID, kind, period))
	if err != nil {
		o.Error = fmt.Sprintf("reports: claim run: %v", err)
		return o
	}
	if !claimed {
		o.Skipped, o.Reason = true, ReasonAlreadySent
		return o
	}

	env := notify.PeriodicReport(rendered.Subject, rendered.Text, rendered.HTML)
	env.TenantID = tenantID
	for _, u := range recipients {
		if u.Email == "" {
			continue
		}
		res := s.notifier.Dispatch(ctx, env.For(notify.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email}))
		if res.EmailSent {
			o.Recipients++
		}
	}
	o.Sent = true
	logger.Info("reports: report dispatched", "period_start", period.Start, "recipients", o.Recipients)

	s.archive(ctx, report, rendered, o.Recipients, logger)
	return o
}

// archive failures are logged; the report has already gone out.
func (s *Service) archive(ctx context.Context, report *Report, rendered Rendered, recipients int, logger *logging.Logger) {
	if s.archiver == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		logger.Warn("reports: marshal for archive failed", "error", err)
		return
	}
	rec := &archive.ReportRecord{
		TenantID:    report.TenantID,
		Kind:        string(report.Period.Kind),
		PeriodStart: report.Period.Start,
		PeriodEnd:   report.Period.End,
		Subject:     rendered.Subject,
		HTML:        rendered.HTML,
		Metrics:     data,
		Recipients:  recipients,
		GeneratedAt: report.GeneratedAt,
	}
	if err := s.archiver.ArchiveReport(ctx, rec); err != nil {
		logger.Warn("reports: archive failed", "error", err)
	}
}
