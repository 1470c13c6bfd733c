package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaidTolerance absorbs currency rounding when deciding an invoice is settled.
var PaidTolerance = decimal.RequireFromString("0.01")

var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:   {StatusSent, StatusPartial, StatusPaid, StatusCancelled},
	StatusSent:    {StatusViewed, StatusPartial, StatusPaid, StatusCancelled},
	StatusViewed:  {StatusPartial, StatusPaid, StatusCancelled},
	StatusPartial: {StatusPartial, StatusPaid, StatusCancelled},
	StatusOverdue: {StatusPartial, StatusPaid, StatusCancelled},
}

// CanTransition reports whether the lifecycle permits moving from one status to another.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusViewed, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// AcceptsPayment reports whether a payment may be recorded in this status.
func (s InvoiceStatus) AcceptsPayment() bool {
	return s != StatusPaid && s != StatusCancelled
}

// IsOpen reports whether the invoice is issued and still owes money.
func (inv Invoice) IsOpen() bool {
	switch inv.Status {
	case StatusSent, StatusViewed, StatusPartial, StatusOverdue:
		return true
	}
	return false
}

// EffectiveStatus derives the display status at asOf. Overdue is never
// persisted by the engine; it is computed from the due date.
func (inv Invoice) EffectiveStatus(asOf time.Time) InvoiceStatus {
	if inv.IsOpen() && inv.DueDate != nil && DateOnly(*inv.DueDate).Before(DateOnly(asOf)) {
		return StatusOverdue
	}
	return inv.Status
}

// DaysOverdue returns whole days between the due date and asOf; zero or
// negative means not yet overdue.
func (inv Invoice) DaysOverdue(asOf time.Time) int {
	if inv.DueDate == nil {
		return 0
	}
	return DaysBetween(*inv.DueDate, asOf)
}

// SettlementStatus derives partial or paid from the amounts after a payment.
func SettlementStatus(total, paid decimal.Decimal) InvoiceStatus {
	if total.Sub(paid).LessThanOrEqual(PaidTolerance) {
		return StatusPaid
	}
	return StatusPartial
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}
