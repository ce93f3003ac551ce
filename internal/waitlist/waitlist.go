// Package waitlist keeps each tenant's priority-ordered list of patients
// waiting for a slot and picks the entry a freed slot goes to.
package waitlist

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// MatchWindowDays is how far, in calendar days, a preferred date may be from
// the slot date and still match.
const MatchWindowDays = 7

var (
	// ErrInvalidEntry is returned when an entry lacks tenant or patient.
	ErrInvalidEntry = errors.New("waitlist: tenant and patient are required")
)

// Entry is one patient's standing request for a slot.
type Entry struct {
	TenantID      string     `json:"tenant_id"`
	PatientID     string     `json:"patient_id"`
	PreferredDate *time.Time `json:"preferred_date,omitempty"`
	PreferredTime string     `json:"preferred_time,omitempty"`
	DoctorID      string     `json:"doctor_id,omitempty"`
	Priority      int        `json:"priority"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Slot describes a freed appointment slot.
type Slot struct {
	Date     time.Time
	Time     string
	DoctorID string
}

// Matches reports whether the entry's constraints accept slot. An entry
// without constraints accepts any slot.
func (e *Entry) Matches(slot Slot) bool {
	if e.DoctorID != "" && e.DoctorID != slot.DoctorID {
		return false
	}
	if e.PreferredDate != nil && calendarDaysApart(*e.PreferredDate, slot.Date) > MatchWindowDays {
		return false
	}
	return true
}

func calendarDaysApart(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Sort orders entries by priority descending, then creation ascending.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].PatientID < entries[j].PatientID
	})
}

// Match returns the index of the first compatible entry in sorted order.
// Priority and age decide the winner, not closeness of fit.
func Match(sorted []Entry, slot Slot) (int, bool) {
	for i := range sorted {
		if sorted[i].Matches(slot) {
			return i, true
		}
	}
	return -1, false
}

func normalize(e *Entry, now time.Time) error {
	e.TenantID = strings.TrimSpace(e.TenantID)
	e.PatientID = strings.TrimSpace(e.PatientID)
	if e.TenantID == "" || e.PatientID == "" {
		return ErrInvalidEntry
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return nil
}

// Store holds waitlist entries partitioned by tenant.
type Store interface {
	// Add inserts or replaces the patient's entry.
	Add(ctx context.Context, e Entry) error
	// Remove deletes the patient's entry. Missing entries are not an error.
	Remove(ctx context.Context, tenantID, patientID string) error
	List(ctx context.Context, tenantID string) ([]Entry, error)
	MatchForSlot(ctx context.Context, tenantID string, slot Slot) (*Entry, error)
	// Claim matches and removes the winning entry in one critical section.
	Claim(ctx context.Context, tenantID string, slot Slot) (*Entry, error)
	Tenants(ctx context.Context) ([]string, error)
}
