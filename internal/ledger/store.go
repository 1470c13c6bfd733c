package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Reader exposes non-locking queries over the ledger.
type Reader interface {
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	// ListOpenInvoices returns issued invoices that still owe money, oldest due first.
	ListOpenInvoices(ctx context.Context, clientID *int64) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	ListCreditsForInvoice(ctx context.Context, invoiceID int64) ([]Credit, error)
	ListCreditsFromDeposit(ctx context.Context, depositInvoiceID int64) ([]Credit, error)

	GetRecurring(ctx context.Context, id int64) (RecurringInvoice, error)
	ListRecurring(ctx context.Context, activeOnly bool) ([]RecurringInvoice, error)
	ListDueRecurring(ctx context.Context, asOf time.Time) ([]RecurringInvoice, error)

	GetScheduled(ctx context.Context, id int64) (ScheduledInvoice, error)
	ListDueScheduled(ctx context.Context, asOf time.Time) ([]ScheduledInvoice, error)
	ListScheduledForMilestone(ctx context.Context, milestoneID int64) ([]ScheduledInvoice, error)

	GetReminder(ctx context.Context, id int64) (Reminder, error)
	ListReminders(ctx context.Context, invoiceID int64) ([]Reminder, error)
	ListDueReminders(ctx context.Context, asOf time.Time) ([]Reminder, error)
}

// Tx exposes locking reads and writes inside a single transaction.
type Tx interface {
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InsertInvoice(ctx context.Context, inv NewInvoice) (Invoice, error)
	ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem, totals Totals) error
	UpdateInvoice(ctx context.Context, inv Invoice) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertCredit(ctx context.Context, c Credit) (Credit, error)
	SumCreditsFromDeposit(ctx context.Context, depositInvoiceID int64) (decimal.Decimal, error)
	SumCreditsForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error)

	InsertRecurring(ctx context.Context, r RecurringInvoice) (RecurringInvoice, error)
	LockRecurring(ctx context.Context, id int64) (RecurringInvoice, error)
	UpdateRecurring(ctx context.Context, r RecurringInvoice) error

	InsertScheduled(ctx context.Context, s ScheduledInvoice) (ScheduledInvoice, error)
	LockScheduled(ctx context.Context, id int64) (ScheduledInvoice, error)
	UpdateScheduled(ctx context.Context, s ScheduledInvoice) error

	// EnsureReminder inserts the row unless one of the same type exists for the invoice.
	EnsureReminder(ctx context.Context, r Reminder) (bool, error)
	LockReminder(ctx context.Context, id int64) (Reminder, error)
	UpdateReminder(ctx context.Context, r Reminder) error
	// SkipPendingReminders marks every pending reminder of the invoice skipped.
	SkipPendingReminders(ctx context.Context, invoiceID int64) (int, error)
}

// Store is the ledger persistence boundary. Every mutation runs inside WithTx;
// an error returned by fn rolls back all writes.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
