// Package reminders schedules and sends dunning reminders for open invoices.
package reminders

import (
	"time"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
)

// Step is one dunning step relative to the due date.
type Step struct {
	Type   ledger.ReminderType
	Offset int
}

// Steps lists the reminder ladder in send order.
var Steps = []Step{
	{Type: ledger.ReminderUpcoming, Offset: -3},
	{Type: ledger.ReminderDue, Offset: 0},
	{Type: ledger.ReminderOverdue3, Offset: 3},
	{Type: ledger.ReminderOverdue7, Offset: 7},
	{Type: ledger.ReminderOverdue14, Offset: 14},
	{Type: ledger.ReminderOverdue30, Offset: 30},
}

// Plan returns the reminder rows an invoice should have. The upcoming step is
// dropped when it would fall before the invoice was issued.
func Plan(inv ledger.Invoice) []ledger.Reminder {
	if inv.DueDate == nil {
		return nil
	}
	due := ledger.DateOnly(*inv.DueDate)
	out := make([]ledger.Reminder, 0, len(Steps))
	for _, step := range Steps {
		at := due.AddDate(0, 0, step.Offset)
		if step.Type == ledger.ReminderUpcoming && inv.IssuedDate != nil && at.Before(ledger.DateOnly(*inv.IssuedDate)) {
			continue
		}
		out = append(out, ledger.Reminder{
			InvoiceID:     inv.ID,
			Type:          step.Type,
			ScheduledDate: at,
			Status:        ledger.ReminderPending,
		})
	}
	return out
}

// isDue reports whether a reminder's date has arrived at asOf.
func isDue(r ledger.Reminder, asOf time.Time) bool {
	return !ledger.DateOnly(r.ScheduledDate).After(ledger.DateOnly(asOf))
}
