// Package recurring generates invoices from recurring patterns.
package recurring

import (
	"time"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
)

// CatchUp selects how a sweep treats periods missed while it was not running.
type CatchUp string

const (
	// CatchUpSkip generates one invoice and jumps past every missed period.
	CatchUpSkip CatchUp = "skip"
	// CatchUpSequential generates one invoice and advances a single period,
	// so later sweeps back-fill the rest one by one.
	CatchUpSequential CatchUp = "sequential"
)

// Valid reports whether c is a known policy.
func (c CatchUp) Valid() bool {
	return c == CatchUpSkip || c == CatchUpSequential
}

// NextGenerationDate returns the first anchor strictly after from. Weekly
// patterns land on DayOfWeek; monthly and quarterly land on DayOfMonth one or
// three months after from's month, clamped to the month's last day.
func NextGenerationDate(p ledger.RecurringInvoice, from time.Time) time.Time {
	from = ledger.DateOnly(from)
	switch p.Frequency {
	case ledger.FrequencyWeekly:
		delta := (int(p.DayOfWeek) - int(from.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return from.AddDate(0, 0, delta)
	case ledger.FrequencyQuarterly:
		return anchorIn(from.Year(), from.Month()+3, p.DayOfMonth)
	default:
		return anchorIn(from.Year(), from.Month()+1, p.DayOfMonth)
	}
}

// FirstGenerationDate returns the first anchor on or after start.
func FirstGenerationDate(p ledger.RecurringInvoice, start time.Time) time.Time {
	start = ledger.DateOnly(start)
	if p.Frequency == ledger.FrequencyWeekly {
		if start.Weekday() == p.DayOfWeek {
			return start
		}
		return NextGenerationDate(p, start)
	}
	candidate := anchorIn(start.Year(), start.Month(), p.DayOfMonth)
	if !candidate.Before(start) {
		return candidate
	}
	return anchorIn(start.Year(), start.Month()+1, p.DayOfMonth)
}

// Advance moves a due pattern forward after a generation at asOf.
func Advance(p ledger.RecurringInvoice, asOf time.Time, policy CatchUp) time.Time {
	next := NextGenerationDate(p, p.NextGenerationDate)
	if policy == CatchUpSequential {
		return next
	}
	day := ledger.DateOnly(asOf)
	for !next.After(day) {
		next = NextGenerationDate(p, next)
	}
	return next
}

// anchorIn builds day in the given month, normalising month overflow and
// clamping day to the month length.
func anchorIn(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day < 1 {
		day = 1
	}
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
