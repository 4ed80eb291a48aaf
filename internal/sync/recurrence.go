package sync

import (
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
)

// DefaultRecurrenceYears caps open-ended series.
const DefaultRecurrenceYears = 20

// NextOccurrence advances one repetition period from date.
func NextOccurrence(rule *db.RecurrenceRule, date time.Time) time.Time {
	step := rule.Periodicity
	if step < 1 {
		step = 1
	}
	switch rule.Type {
	case db.RecurrenceDay:
		return date.AddDate(0, 0, step)
	case db.RecurrenceWeek:
		return date.AddDate(0, 0, 7*step)
	case db.RecurrenceMonth:
		return date.AddDate(0, step, 0)
	case db.RecurrenceYear:
		return date.AddDate(step, 0, 0)
	default:
		return date.AddDate(0, 0, step)
	}
}

// SeriesEnd returns the effective end of a rule. An unset end date is
// treated as StartDate plus DefaultRecurrenceYears years.
func SeriesEnd(rule *db.RecurrenceRule) time.Time {
	if !rule.EndDate.IsZero() {
		return rule.EndDate
	}
	if rule.EndType == db.RecurrenceEndCount && rule.Count > 0 {
		date := rule.StartDate
		for i := 1; i < rule.Count; i++ {
			date = NextOccurrence(rule, date)
		}
		return date
	}
	return rule.StartDate.AddDate(DefaultRecurrenceYears, 0, 0)
}

// OccursInWindow walks the series from its start and reports whether
// any occurrence falls inside the window. The walk stops at the series
// end or the window end, whichever comes first.
func OccursInWindow(rule *db.RecurrenceRule, w Window) bool {
	end := SeriesEnd(rule)
	date := rule.StartDate
	for !date.After(end) {
		if w.Contains(date) {
			return true
		}
		if date.After(w.End) {
			return false
		}
		next := NextOccurrence(rule, date)
		if !next.After(date) {
			return false
		}
		date = next
	}
	return false
}

// Occurrences lists every date of the series from its start through its
// effective end, the first occurrence included.
func Occurrences(rule *db.RecurrenceRule) []time.Time {
	end := SeriesEnd(rule)
	var dates []time.Time
	date := rule.StartDate
	for !date.After(end) {
		dates = append(dates, date)
		next := NextOccurrence(rule, date)
		if !next.After(date) {
			break
		}
		date = next
	}
	return dates
}
