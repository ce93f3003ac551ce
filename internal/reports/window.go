// Package reports builds the weekly and monthly business summaries sent to
// clinic admins and accountants.
package reports

import (
	"fmt"
	"time"
)

// Kind selects the report cadence.
type Kind string

const (
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// Period is a half-open reporting window [Start, End).
type Period struct {
	Kind  Kind      `json:"kind"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

const dateLayout = "2006-01-02"

// Dates returns the bounds as calendar dates in the zone the period was
// computed in, for comparison against DATE columns.
func (p Period) Dates() (from, to string) {
	return p.Start.Format(dateLayout), p.End.Format(dateLayout)
}

// LastDay is the final calendar day included in the period.
func (p Period) LastDay() time.Time {
	return p.End.AddDate(0, 0, -1)
}

// Window returns the last complete period before now: the previous ISO week
// (Monday 00:00 to Monday 00:00) or the previous calendar month, in loc.
func Window(kind Kind, now time.Time, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch kind {
	case KindWeekly:
		sinceMonday := (int(midnight.Weekday()) + 6) % 7
		thisMonday := midnight.AddDate(0, 0, -sinceMonday)
		return Period{Kind: kind, Start: thisMonday.AddDate(0, 0, -7), End: thisMonday}, nil
	case KindMonthly:
		first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Period{Kind: kind, Start: first.AddDate(0, -1, 0), End: first}, nil
	default:
		return Period{}, fmt.Errorf("reports: unknown period kind %q", kind)
	}
}
