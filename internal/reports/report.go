package reports

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Report is an immutable snapshot of one tenant's metrics for a period.
type Report struct {
	TenantID      string             `json:"tenant_id"`
	ClinicName    string             `json:"clinic_name"`
	Period        Period             `json:"period"`
	Patients      PatientMetrics     `json:"patients"`
	Appointments  AppointmentMetrics `json:"appointments"`
	Visits        VisitMetrics       `json:"visits"`
	Revenue       RevenueMetrics     `json:"revenue"`
	Prescriptions int64              `json:"prescriptions"`
	LabResults    int64              `json:"lab_results"`
	ActiveDoctors int64              `json:"active_doctors"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

type PatientMetrics struct {
	Total int64 `json:"total"`
	New   int64 `json:"new"`
}

type AppointmentMetrics struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	// Rates are percentages of Total, rounded to one decimal.
	CompletionRate float64 `json:"completion_rate"`
	NoShowRate     float64 `json:"no_show_rate"`
}

type VisitMetrics struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
}

// Breakdown is revenue attributed to one payment method or one doctor.
type Breakdown struct {
	Key    string          `json:"key"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Count  int64           `json:"count"`
}

type RevenueMetrics struct {
	TotalBilled decimal.Decimal `json:"total_billed"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Discounts   decimal.Decimal `json:"discounts"`
	Tax         decimal.Decimal `json:"tax"`
	// OutstandingBalance covers every unpaid or partial invoice, not just the window.
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	AveragePerVisit    decimal.Decimal `json:"average_per_visit"`
	InvoiceCount       int64           `json:"invoice_count"`
	ByPaymentMethod    []Breakdown     `json:"by_payment_method"`
	ByDoctor           []Breakdown     `json:"by_doctor"`
}

func rate(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}

func (r *Report) finalize() {
	a := &r.Appointments
	a.Total = 0
	for _, n := range a.ByStatus {
		a.Total += n
	}
	a.CompletionRate = rate(a.ByStatus["completed"], a.Total)
	a.NoShowRate = rate(a.ByStatus["no-show"], a.Total)

	if r.Visits.Completed > 0 {
		r.Revenue.AveragePerVisit = r.Revenue.TotalPaid.Div(decimal.NewFromInt(r.Visits.Completed)).Round(2)
	} else {
		r.Revenue.AveragePerVisit = decimal.Zero
	}
}

// Rendered is the email-ready form of a report.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

func (r *Report) periodLabel() string {
	last := r.Period.LastDay()
	if r.Period.Kind == KindMonthly {
		return r.Period.Start.Format("January 2006")
	}
	return fmt.Sprintf("%s to %s", r.Period.Start.Format("Jan 2"), last.Format("Jan 2, 2006"))
}

func titleKind(k Kind) string {
	if k == KindMonthly {
		return "Monthly"
	}
	return "Weekly"
}

// Render produces the subject, plain-text and HTML bodies.
func Render(r *Report) (Rendered, error) {
	subject := fmt.Sprintf("%s report for %s: %s", titleKind(r.Period.Kind), r.ClinicName, r.periodLabel())

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", subject)
	fmt.Fprintf(&text, "Patients: %d total, %d new\n", r.Patients.Total, r.Patients.New)
	fmt.Fprintf(&text, "Appointments: %d (completion %.1f%%, no-show %.1f%%)\n",
		r.Appointments.Total, r.Appointments.CompletionRate, r.Appointments.NoShowRate)
	fmt.Fprintf(&text, "Visits: %d total, %d completed\n", r.Visits.Total, r.Visits.Completed)
	fmt.Fprintf(&text, "Revenue: billed %s, paid %s, discounts %s, tax %s\n",
		r.Revenue.TotalBilled.StringFixed(2), r.Revenue.TotalPaid.StringFixed(2),
		r.Revenue.Discounts.StringFixed(2), r.Revenue.Tax.StringFixed(2))
	fmt.Fprintf(&text, "Outstanding balance (all time): %s\n", r.Revenue.OutstandingBalance.StringFixed(2))
	fmt.Fprintf(&text, "Average per completed visit: %s\n", r.Revenue.AveragePerVisit.StringFixed(2))
	for _, b := range r.Revenue.ByPaymentMethod {
		fmt.Fprintf(&text, "  %s: %s (%d)\n", b.Label, b.Amount.StringFixed(2), b.Count)
	}
	for _, b := range r.Revenue.ByDoctor {
		fmt.Fprintf(&text, "  %s: %s (%d)\n", b.Label, b.Amount.StringFixed(2), b.Count)
	}
	fmt.Fprintf(&text, "Prescriptions: %d\nLab results: %d\nActive doctors: %d\n",
		r.Prescriptions, r.LabResults, r.ActiveDoctors)

	var html bytes.Buffer
	if err := htmlTemplate.Execute(&html, htmlData{Subject: subject, R: r}); err != nil {
		return Rendered{}, fmt.Errorf("reports: render html: %w", err)
	}
	return Rendered{Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

type htmlData struct {
	Subject string
	R       *Report
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).Option("missingkey=error").Parse(`<html><body style="font-family:sans-serif">
<h2>{{.Subject}}</h2>
<table cellpadding="4">
<tr><td>Patients</td><td>{{.R.Patients.Total}} total, {{.R.Patients.New}} new</td></tr>
<tr><td>Appointments</td><td>{{.R.Appointments.Total}} (completion {{printf "%.1f" .R.Appointments.CompletionRate}}%, no-show {{printf "%.1f" .R.Appointments.NoShowRate}}%)</td></tr>
<tr><td>Visits</td><td>{{.R.Visits.Total}} total, {{.R.Visits.Completed}} completed</td></tr>
<tr><td>Billed</td><td>{{money .R.Revenue.TotalBilled}}</td></tr>
<tr><td>Paid</td><td>{{money .R.Revenue.TotalPaid}}</td></tr>
<tr><td>Discounts</td><td>{{money .R.Revenue.Discounts}}</td></tr>
<tr><td>Tax</td><td>{{money .R.Revenue.Tax}}</td></tr>
<tr><td>Outstanding (all time)</td><td>{{money .R.Revenue.OutstandingBalance}}</td></tr>
<tr><td>Average per visit</td><td>{{money .R.Revenue.AveragePerVisit}}</td></tr>
</table>
{{if .R.Revenue.ByPaymentMethod}}<h3>By payment method</h3><ul>{{range .R.Revenue.ByPaymentMethod}}<li>{{.Label}}: {{money .Amount}} ({{.Count}})</li>{{end}}</ul>{{end}}
{{if .R.Revenue.ByDoctor}}<h3>By doctor</h3><ul>{{range .R.Revenue.ByDoctor}}<li>{{.Label}}: {{money .Amount}} ({{.Count}})</li>{{end}}</ul>{{end}}
<p>Prescriptions: {{.R.Prescriptions}} &middot; Lab results: {{.R.LabResults}} &middot; Active doctors: {{.R.ActiveDoctors}}</p>
</body></html>`))
