package reports

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("clinicops.internal.reports")

var dialect = goqu.Dialect("postgres")

// querier is the read-only subset of pgxpool.Pool the aggregator uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Aggregator computes report metrics with read-only queries against the
// clinical tables.
type Aggregator struct {
	db          querier
	parallelism int
}

func NewAggregator(db querier) *Aggregator {
	return &Aggregator{db: db, parallelism: 6}
}

// WithParallelism bounds how many report queries run at once.
func (a *Aggregator) WithParallelism(n int) *Aggregator {
	if n > 0 {
		a.parallelism = n
	}
	return a
}

// Build runs every metric query for the tenant and period in parallel and
// assembles the report. Any failing query fails the whole build.
func (a *Aggregator) Build(ctx context.Context, tenantID string, period Period) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reports.build")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", tenantID),
		attribute.String("reports.kind", string(period.Kind)),
	)

	r := &Report{
		TenantID: tenantID,
		Period:   period,
		Appointments: AppointmentMetrics{
			ByStatus: map[string]int64{},
		},
		Revenue: RevenueMetrics{
			ByPaymentMethod: []Breakdown{},
			ByDoctor:        []Breakdown{},
		},
	}

	// Each query writes a disjoint part of r.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	g.Go(func() error { return a.patients(gctx, tenantID, period, &r.Patients) })
	g.Go(func() error { return a.appointments(gctx, tenantID, period, r.Appointments.ByStatus) })
	g.Go(func() error { return a.visits(gctx, tenantID, period, &r.Visits) })
	g.Go(func() error { return a.revenue(gctx, tenantID, period, &r.Revenue) })
	g.Go(func() error { return a.outstanding(gctx, tenantID, &r.Revenue.OutstandingBalance) })
	g.Go(func() error { return a.byPaymentMethod(gctx, tenantID, period, &r.Revenue.ByPaymentMethod) })
	g.Go(func() error { return a.byDoctor(gctx, tenantID, period, &r.Revenue.ByDoctor) })
	g.Go(func() error {
		return a.count(gctx, "prescriptions", windowed(tenantID, "created_at", period), &r.Prescriptions)
	})
	g.Go(func() error {
		return a.count(gctx, "lab_results", windowed(tenantID, "created_at", period), &r.LabResults)
	})
	g.Go(func() error {
		return a.count(gctx, "doctors", goqu.Ex{"tenant_id": tenantID, "active": true}, &r.ActiveDoctors)
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.finalize()
	return r, nil
}

func windowed(tenantID, column string, p Period) exp.ExpressionList {
	return goqu.And(
		goqu.C("tenant_id").Eq(tenantID),
		goqu.C(column).Gte(p.Start),
		goqu.C(column).Lt(p.End),
	)
}

// dateWindowed bounds a DATE column by the period's calendar days. Comparing a
// DATE to timestamptz bounds would shift the window by the session zone.
func dateWindowed(tenantID, column string, p Period) exp.ExpressionList {
	from, to := p.Dates()
	return goqu.And(
		goqu.C("tenant_id").Eq(tenantID),
		goqu.C(column).Gte(goqu.L("?::date", from)),
		goqu.C(column).Lt(goqu.L("?::date", to)),
	)
}

func toSQL(ds *goqu.SelectDataset) (string, []any, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("reports: build query: %w", err)
	}
	return sql, args, nil
}

func (a *Aggregator) count(ctx context.Context, table string, where exp.Expression, dst *int64) error {
	sql, args, err := toSQL(dialect.From(table).Select(goqu.COUNT(goqu.Star())).Where(where))
	if err != nil {
		return err
	}
	if err := a.db.QueryRow(ctx, sql, args...).Scan(dst); err != nil {
		return fmt.Errorf("reports: count %s: %w", table, err)
	}
	return nil
}

func (a *Aggregator) patients(ctx context.Context, tenantID string, p Period, dst *PatientMetrics) error {
	ds := dialect.From("patients").
		Select(
			goqu.COUNT(goqu.Star()).As("total"),
			goqu.L("COUNT(*) FILTER (WHERE created_at >= ? AND created_at < ?)", p.Start, p.End).As("new_patients"),
		).
		Where(goqu.C("tenant_id").Eq(tenantID))
	sql, args, err := toSQL(ds)
	if err != nil {
		return err
	}
	if err := a.db.QueryRow(ctx, sql, args...).Scan(&dst.Total, &dst.New); err != nil {
		return fmt.Errorf("reports: patients: %w", err)
	}
	return nil
}

func (a *Aggregator) appointments(ctx context.Context, tenantID string, p Period, byStatus map[string]int64) error {
	ds := dialect.From("appointments").
		Select(goqu.C("status"), goqu.COUNT(goqu.Star())).
		Where(dateWindowed(tenantID, "date", p)).
		GroupBy(goqu.C("status"))
	sql, args, err := toSQL(ds)
	if err != nil {
		return err
	}
	rows, err := a.db.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("reports: appointments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return fmt.Errorf("reports: scan appointments: %w", err)
		}
		byStatus[status] = n
	}
	return rows.Err()
}

func (a *Aggregator) visits(ctx context.Context, tenantID string, p Period, dst *VisitMetrics) error {
	ds := dialect.From("visits").
		Select(
			goqu.COUNT(goqu.Star()).As("total"),
			goqu.L("COUNT(*) FILTER (WHERE status = 'completed')").As("completed"),
		).
		Where(windowed(tenantID, "visit_date", p))
	sql, args, err := toSQL(ds)
	if err != nil {
		return err
	}
	if err := a.db.QueryRow(ctx, sql, args...).Scan(&dst.Total, &dst.Completed); err != nil {
		return fmt.Errorf("reports: visits: %w", err)
	}
	return nil
}

// billable excludes voided invoices from every revenue figure.
func billable(tenantID string, p Period) exp.ExpressionList {
	return goqu.And(windowed(tenantID, "issued_at", p), goqu.C("status").Neq("void"))
}

func (a *Aggregator) revenue(ctx context.Context, tenantID string, p Period, dst *RevenueMetrics) error {
	ds := dialect.From("invoices").
		Select(
			goqu.L("COALESCE(SUM(total), 0)::text").As("billed"),
			goqu.L("COALESCE(SUM(amount_paid), 0)::text").As("paid"),
			goqu.L("COALESCE(SUM(discount), 0)::text").As("discounts"),
			goqu.L("COALESCE(SUM(tax), 0)::text").As("tax"),
			goqu.COUNT(goqu.Star()).As("invoices"),
		).
		Where(billable(tenantID, p))
	sql, args, err := toSQL(ds)
	if err != nil {
		return err
	}
	var billed, paid, discounts, tax string
	if err := a.db.QueryRow(ctx, sql, args...).Scan(&billed, &paid, &discounts, &tax, &dst.InvoiceCount); err != nil {
		return fmt.Errorf("reports: revenue: %w", err)
	}
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{{billed, &dst.TotalBilled}, {paid, &dst.TotalPaid}, {discounts, &dst.Discounts}, {tax, &dst.Tax}} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return fmt.Errorf("reports: parse revenue %q: %w", f.raw, err)
		}
	}
	return nil
}

func (a *Aggregator) outstanding(ctx context.Context, tenantID string, dst *decimal.Decimal) error {
	ds := dialect.From("invoices").
		Select(goqu.L("COALESCE(SUM(total - amount_paid), 0)::text").As("outstanding")).
		Where(goqu.Ex{"tenant_id": tenantID, "status": []string{"unpaid", "partial"}})
	sql, args, err := toSQL(ds)
	if err != nil {
		return err
	}
	var raw string
	if err := a.db.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return fmt.Errorf("reports: outstanding: %w", err)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("reports: parse outstanding %q: %w", raw, err)
	}
	*dst = v
	return nil
}

func (a *Aggregator) byPaymentMethod(ctx context.Context, tenantID string, p Period, dst *[]Breakdown) error {
	ds := dialect.From("invoices").
		Select(
			goqu.L("COALESCE(payment_method, 'unknown')").As("method"),
			goqu.L("COALESCE(payment_method, 'unknown')").As("label"),
			goqu.L("COALESCE(SUM(amount_paid), 0)::text").As("amount"),
			goqu.COUNT(goqu.Star()).As("invoices"),
		).
		Where(billable(tenantID, p)).
		GroupBy(goqu.I("method")).
		Order(goqu.L("SUM(amount_paid)").Desc())
	return a.breakdown(ctx, ds, "payment method", dst)
}

// byDoctor attributes invoice payments to the doctor of the billed visit.
func (a *Aggregator) byDoctor(ctx context.Context, tenantID string, p Period, dst *[]Breakdown) error {
	ds := dialect.From(goqu.T("invoices").As("i")).
		InnerJoin(goqu.T("visits").As("v"), goqu.On(goqu.I("v.id").Eq(goqu.I("i.visit_id")))).
		InnerJoin(goqu.T("doctors").As("d"), goqu.On(goqu.I("d.id").Eq(goqu.I("v.doctor_id")))).
		Select(
			goqu.I("d.id"),
			goqu.I("d.name"),
			goqu.L("COALESCE(SUM(i.amount_paid), 0)::text").As("amount"),
			goqu.COUNT(goqu.Star()).As("invoices"),
		).
		Where(
			goqu.I("i.tenant_id").Eq(tenantID),
			goqu.I("i.issued_at").Gte(p.Start),
			goqu.I("i.issued_at").Lt(p.End),
			goqu.I("i.status").Neq("void"),
		).
		GroupBy(goqu.I("d.id"), goqu.I("d.name")).
		Order(goqu.L("SUM(i.amount_paid)").Desc())
	return a.breakdown(ctx, ds, "doctor", dst)
}

// breakdown scans (key, label, amount, count) rows.
func (a *Aggregator) breakdown(ctx context.Context, ds *goqu.SelectDataset, what string, dst *[]Breakdown) error {
	sql, args, err := toSQL(ds)
	if err != nil {
		return err
	}
	rows, err := a.db.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("reports: revenue by %s: %w", what, err)
	}
	defer rows.Close()
	for rows.Next() {
		var b Breakdown
		var amount string
		if err := rows.Scan(&b.Key, &b.Label, &amount, &b.Count); err != nil {
			return fmt.Errorf("reports: scan revenue by %s: %w", what, err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("reports: parse revenue by %s %q: %w", what, amount, err)
		}
		*dst = append(*dst, b)
	}
	return rows.Err()
}
