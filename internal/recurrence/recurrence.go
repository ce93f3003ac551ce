// Package recurrence computes the cadence of recurring appointment series.
//
// Month-based frequencies keep the day of month and clamp to the last day of
// the target month when it is shorter (Jan 31 + 1 month = Feb 28 or 29).
package recurrence

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Frequency is the cadence of a recurring series.
type Frequency string

const (
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// All lists every supported frequency in ascending period order.
func All() []Frequency {
	return []Frequency{Weekly, Biweekly, Monthly, Quarterly, Yearly}
}

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// ParseFrequency normalizes user or database input into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, " ", "")
	switch key {
	case "weekly":
		return Weekly, nil
	case "biweekly", "fortnightly":
		return Biweekly, nil
	case "monthly":
		return Monthly, nil
	case "quarterly":
		return Quarterly, nil
	case "yearly", "annual", "annually":
		return Yearly, nil
	}
	return "", fmt.Errorf("recurrence: unknown frequency %q", s)
}

// NextDate returns the next occurrence after last. Unknown frequencies fall
// back to weekly so the function stays total.
func NextDate(last time.Time, f Frequency) time.Time {
	switch f {
	case Biweekly:
		return last.AddDate(0, 0, 14)
	case Monthly:
		return addMonthsClamped(last, 1)
	case Quarterly:
		return addMonthsClamped(last, 3)
	case Yearly:
		return addMonthsClamped(last, 12)
	default:
		return last.AddDate(0, 0, 7)
	}
}

// Occurrences returns the n dates following start, each computed from the
// series anchor so month clamping does not drift (Jan 31 -> Feb 28 -> Mar 31).
func Occurrences(start time.Time, f Frequency, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	for i := 1; i <= n; i++ {
		switch f {
		case Monthly:
			out = append(out, addMonthsClamped(start, i))
		case Quarterly:
			out = append(out, addMonthsClamped(start, 3*i))
		case Yearly:
			out = append(out, addMonthsClamped(start, 12*i))
		case Biweekly:
			out = append(out, start.AddDate(0, 0, 14*i))
		default:
			out = append(out, start.AddDate(0, 0, 7*i))
		}
	}
	return out
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	target := time.Date(y, m+time.Month(months), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// notesPattern recognises frequency words in free-text notes. Order matters:
// biweekly must be tried before weekly.
var notesPattern = regexp.MustCompile(`(?i)\b(bi-?weekly|fortnightly|weekly|monthly|quarterly|yearly|annual(?:ly)?)\b`)

// FrequencyFromNotes recovers a frequency from legacy free-text notes such as
// "Recurring appointment (monthly)". It exists only to migrate appointments
// created before series were first-class.
func FrequencyFromNotes(notes string) (Frequency, bool) {
	match := notesPattern.FindStringSubmatch(notes)
	if len(match) < 2 {
		return "", false
	}
	f, err := ParseFrequency(match[1])
	if err != nil {
		return "", false
	}
	return f, true
}
