package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/clinicops/internal/app/bootstrap"
	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/codes"
	appconfig "github.com/wolfman30/clinicops/internal/config"
	"github.com/wolfman30/clinicops/internal/directory"
	"github.com/wolfman30/clinicops/internal/recurrence"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/pkg/logging"
)

func main() {
	tenantID := flag.String("tenant", "demo-clinic", "tenant id to seed")
	doctors := flag.Int("doctors", 4, "number of doctors")
	patients := flag.Int("patients", 60, "number of patients")
	weeks := flag.Int("weeks", 6, "weeks of appointment history")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())
	p := buildPlan(*tenantID, *doctors, *patients, *weeks, time.Now().UTC())

	if err := write(ctx, pool, cfg, p, logger); err != nil {
		logger.Error("seed failed", "tenant_id", *tenantID, "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "tenant_id", *tenantID, "appointments", len(p.appointments), "invoices", len(p.invoices))
}

type invoice struct {
	id            uuid.UUID
	visitID       uuid.UUID
	patientID     string
	total         decimal.Decimal
	paid          decimal.Decimal
	discount      decimal.Decimal
	tax           decimal.Decimal
	status        string
	paymentMethod string
	issuedAt      time.Time
}

type visit struct {
	id, appointmentID uuid.UUID
	patientID         string
	doctorID          string
	at                time.Time
}

type plan struct {
	tenantID     string
	clinicName   string
	staff        []directory.User
	doctors      map[string]string
	patients     []directory.Patient
	series       []appointments.Series
	appointments []appointments.Appointment
	visits       []visit
	invoices     []invoice
}

var (
	reasons  = []string{"consultation", "follow-up", "cleaning", "physiotherapy", "vaccination", "check-up"}
	methods  = []string{"card", "cash", "insurance", "transfer"}
	slots    = []string{"08:30", "09:00", "09:45", "10:30", "11:15", "13:00", "14:30", "15:15", "16:00"}
	outcomes = []appointments.Status{
		appointments.StatusCompleted, appointments.StatusCompleted, appointments.StatusCompleted,
		appointments.StatusCancelled, appointments.StatusNoShow,
	}
)

// buildPlan generates a tenant's demo data in memory. Past appointments get a
// terminal status; the following week stays scheduled.
func buildPlan(tenantID string, doctorCount, patientCount, weeks int, now time.Time) plan {
	p := plan{
		tenantID:   tenantID,
		clinicName: gofakeit.Company() + " Clinic",
		doctors:    map[string]string{},
	}

	for _, role := range []directory.Role{directory.RoleAdmin, directory.RoleAccountant, directory.RoleReception} {
		p.staff = append(p.staff, directory.User{
			ID:       fmt.Sprintf("%s-%s", tenantID, role),
			TenantID: tenantID,
			Name:     gofakeit.Name(),
			Email:    gofakeit.Email(),
			Phone:    gofakeit.Phone(),
			Role:     role,
		})
	}
	doctorIDs := make([]string, 0, doctorCount)
	for i := 0; i < doctorCount; i++ {
		id := fmt.Sprintf("%s-dr-%02d", tenantID, i+1)
		p.doctors[id] = "Dr. " + gofakeit.LastName()
		doctorIDs = append(doctorIDs, id)
	}
	for i := 0; i < patientCount; i++ {
		p.patients = append(p.patients, directory.Patient{
			ID:        fmt.Sprintf("%s-pt-%04d", tenantID, i+1),
			TenantID:  tenantID,
			FirstName: gofakeit.FirstName(),
			LastName:  gofakeit.LastName(),
			Email:     gofakeit.Email(),
			Phone:     gofakeit.Phone(),
		})
	}
	if len(doctorIDs) == 0 || len(p.patients) == 0 {
		return p
	}

	today := appointments.DateOnly(now)
	start := today.AddDate(0, 0, -7*weeks)
	booked := map[string]bool{}
	for day := start; day.Before(today.AddDate(0, 0, 7)); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for n := gofakeit.Number(2, 6); n > 0; n-- {
			patient := p.patients[gofakeit.Number(0, len(p.patients)-1)]
			key := patient.ID + day.Format("2006-01-02")
			if booked[key] {
				continue
			}
			booked[key] = true

			appt := appointments.Appointment{
				ID:              uuid.New(),
				TenantID:        tenantID,
				PatientID:       patient.ID,
				DoctorID:        doctorIDs[gofakeit.Number(0, len(doctorIDs)-1)],
				Date:            day,
				Time:            gofakeit.RandomString(slots),
				DurationMinutes: 30,
				Status:          appointments.StatusScheduled,
				Reason:          gofakeit.RandomString(reasons),
				Source:          appointments.SourceBooking,
			}
			if !day.Before(today) {
				p.appointments = append(p.appointments, appt)
				continue
			}

			appt.Status = outcomes[gofakeit.Number(0, len(outcomes)-1)]
			at := appt.StartsAt(time.UTC).Add(time.Duration(appt.DurationMinutes) * time.Minute)
			switch appt.Status {
			case appointments.StatusCompleted:
				appt.CompletedAt = &at
				p.addVisit(appt, at)
			case appointments.StatusCancelled:
				cancelledAt := at.Add(-26 * time.Hour)
				appt.CancelledAt = &cancelledAt
			}
			p.appointments = append(p.appointments, appt)
		}
	}
	p.addSeries(today)
	return p
}

func (p *plan) addVisit(appt appointments.Appointment, at time.Time) {
	v := visit{id: uuid.New(), appointmentID: appt.ID, patientID: appt.PatientID, doctorID: appt.DoctorID, at: at}
	p.visits = append(p.visits, v)

	total := decimal.NewFromFloat(gofakeit.Price(40, 400)).Round(2)
	discount := decimal.Zero
	if gofakeit.Number(0, 9) == 0 {
		discount = total.Mul(decimal.NewFromFloat(0.1)).Round(2)
	}
	tax := total.Sub(discount).Mul(decimal.NewFromFloat(0.08)).Round(2)
	inv := invoice{
		id:            uuid.New(),
		visitID:       v.id,
		patientID:     appt.PatientID,
		total:         total.Sub(discount).Add(tax),
		discount:      discount,
		tax:           tax,
		paymentMethod: gofakeit.RandomString(methods),
		issuedAt:      at,
	}
	switch gofakeit.Number(0, 5) {
	case 0:
		inv.status, inv.paid, inv.paymentMethod = "unpaid", decimal.Zero, ""
	case 1:
		inv.status, inv.paid = "partial", inv.total.Div(decimal.NewFromInt(2)).Round(2)
	default:
		inv.status, inv.paid = "paid", inv.total
	}
	p.invoices = append(p.invoices, inv)
}

// addSeries turns a few completed appointments from last week into the
// latest occurrence of a recurring series so the continuation sweep has work.
func (p *plan) addSeries(today time.Time) {
	freqs := []recurrence.Frequency{recurrence.Weekly, recurrence.Biweekly, recurrence.Monthly}
	lastWeek := today.AddDate(0, 0, -7)
	for i := range p.appointments {
		a := &p.appointments[i]
		if a.Status != appointments.StatusCompleted || a.Date.Before(lastWeek) || len(p.series) >= 3 {
			continue
		}
		s := appointments.Series{
			ID:        uuid.New(),
			TenantID:  a.TenantID,
			PatientID: a.PatientID,
			DoctorID:  a.DoctorID,
			Frequency: freqs[len(p.series)%len(freqs)],
			StartDate: a.Date,
			Active:    true,
		}
		a.SeriesID = &s.ID
		p.series = append(p.series, s)
	}
}

func write(ctx context.Context, pool *pgxpool.Pool, cfg *appconfig.Config, p plan, logger *logging.Logger) error {
	tenantStore := tenants.NewPostgresStore(pool)
	_, err := tenantStore.StartTrial(ctx, p.tenantID, p.clinicName, cfg.TrialLength, time.Now().UTC())
	if errors.Is(err, tenants.ErrTenantExists) {
		logger.Info("seed: tenant already exists; keeping its subscription", "tenant_id", p.tenantID)
	} else if err != nil {
		return err
	}
	st := settings.Default(p.tenantID)
	st.ClinicName = p.clinicName
	if err := settings.NewStore(pool, nil, logger).Save(ctx, st); err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range p.staff {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, tenant_id, name, email, phone, role)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`, u.ID, u.TenantID, u.Name, u.Email, u.Phone, string(u.Role)); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
	}
	for id, name := range p.doctors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, tenant_id, name) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`, id, p.tenantID, name); err != nil {
			return fmt.Errorf("insert doctor: %w", err)
		}
	}
	for _, pt := range p.patients {
		if _, err := tx.Exec(ctx, `
			INSERT INTO patients (id, tenant_id, first_name, last_name, email, phone)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`, pt.ID, pt.TenantID, pt.FirstName, pt.LastName, pt.Email, pt.Phone); err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}
	}

	repo := appointments.NewPostgresRepository(tx)
	allocator := codes.NewPostgresAllocator(tx, repo.Seeder())
	for i := range p.series {
		if err := repo.CreateSeries(ctx, &p.series[i]); err != nil {
			return err
		}
	}
	for i := range p.appointments {
		a := &p.appointments[i]
		code, err := allocator.Next(ctx, p.tenantID, appointments.CodePrefix)
		if err != nil {
			return err
		}
		a.Code = code
		if err := repo.Create(ctx, a); err != nil {
			return err
		}
	}
	for _, v := range p.visits {
		if _, err := tx.Exec(ctx, `
			INSERT INTO visits (id, tenant_id, patient_id, doctor_id, appointment_id, visit_date, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'completed')`, v.id, p.tenantID, v.patientID, v.doctorID, v.appointmentID, v.at); err != nil {
			return fmt.Errorf("insert visit: %w", err)
		}
		if gofakeit.Number(0, 2) == 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO prescriptions (id, tenant_id, visit_id, patient_id, created_at)
				VALUES ($1, $2, $3, $4, $5)`, uuid.New(), p.tenantID, v.id, v.patientID, v.at); err != nil {
				return fmt.Errorf("insert prescription: %w", err)
			}
		}
		if gofakeit.Number(0, 3) == 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO lab_results (id, tenant_id, patient_id, test_name, created_at)
				VALUES ($1, $2, $3, $4, $5)`, uuid.New(), p.tenantID, v.patientID, gofakeit.RandomString([]string{"CBC", "lipid panel", "HbA1c", "TSH"}), v.at.Add(48*time.Hour)); err != nil {
				return fmt.Errorf("insert lab result: %w", err)
			}
		}
	}
	for _, inv := range p.invoices {
		var method any
		if inv.paymentMethod != "" {
			method = inv.paymentMethod
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoices (id, tenant_id, visit_id, patient_id, total, amount_paid, discount, tax, status, payment_method, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			inv.id, p.tenantID, inv.visitID, inv.patientID, inv.total.String(), inv.paid.String(),
			inv.discount.String(), inv.tax.String(), inv.status, method, inv.issuedAt); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
	}
	return tx.Commit(ctx)
}
