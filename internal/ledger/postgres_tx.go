package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	q querier
}

var _ Tx = (*pgTx)(nil)

// LockInvoice loads the invoice and holds its row lock until commit.
func (t *pgTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, t.q, id, true)
}

func (t *pgTx) nextNumber(ctx context.Context, prefix string) (string, error) {
	var n int64
	err := t.q.QueryRow(ctx, `
		INSERT INTO invoice_number_sequences (prefix, last_value) VALUES ($1, 1)
		ON CONFLICT (prefix) DO UPDATE SET last_value = invoice_number_sequences.last_value + 1
		RETURNING last_value`, prefix).Scan(&n)
	if err != nil {
		return "", storageErr("next invoice number", err)
	}
	return fmt.Sprintf("%s-%06d", prefix, n), nil
}

// InsertInvoice allocates a number and writes the invoice with its line items.
func (t *pgTx) InsertInvoice(ctx context.Context, in NewInvoice) (Invoice, error) {
	number, err := t.nextNumber(ctx, in.Prefix)
	if err != nil {
		return Invoice{}, err
	}
	var id int64
	err = t.q.QueryRow(ctx, `
		INSERT INTO invoices (
			invoice_number, project_id, client_id, currency, invoice_type, deposit_percentage,
			subtotal, tax_total, discount_total, amount_total, amount_paid, status,
			issued_date, due_date, notes, terms, late_fee_rate, late_fee_type,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING id`,
		number, in.ProjectID, in.ClientID, in.Currency, in.Type, in.DepositPercentage,
		in.Totals.Subtotal, in.Totals.TaxTotal, in.Totals.DiscountTotal, in.Totals.AmountTotal, in.Status,
		dateArg(in.IssuedDate), dateArg(in.DueDate), in.Notes, in.Terms, in.LateFeeRate, in.LateFeeType,
	).Scan(&id)
	if err != nil {
		return Invoice{}, storageErr("insert invoice", err)
	}
	if err := t.insertLines(ctx, id, in.Lines); err != nil {
		return Invoice{}, err
	}
	return getInvoice(ctx, t.q, id, false)
}

func (t *pgTx) insertLines(ctx context.Context, invoiceID int64, lines []LineItem) error {
	for _, l := range lines {
		_, err := t.q.Exec(ctx, `
			INSERT INTO invoice_line_items (
				invoice_id, description, quantity, unit_price, amount,
				tax_rate, tax_amount, discount_rate, discount_amount, sort_order
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			invoiceID, l.Description, l.Quantity, l.UnitPrice, l.Amount,
			l.TaxRate, l.TaxAmount, l.DiscountRate, l.DiscountAmount, l.SortOrder)
		if err != nil {
			return storageErr("insert line item", err)
		}
	}
	return nil
}

// ReplaceLines swaps the line items and totals of a draft invoice.
func (t *pgTx) ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem, totals Totals) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM invoice_line_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return storageErr("delete line items", err)
	}
	if err := t.insertLines(ctx, invoiceID, lines); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET subtotal = $1, tax_total = $2, discount_total = $3, amount_total = $4, updated_at = NOW()
		WHERE id = $5 AND status = 'draft'`,
		totals.Subtotal, totals.TaxTotal, totals.DiscountTotal, totals.AmountTotal, invoiceID)
	if err != nil {
		return storageErr("update invoice totals", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: replace lines: %w: invoice %d is not a draft", shared.ErrInvalidState, invoiceID)
	}
	return nil
}

// UpdateInvoice persists the mutable columns. Totals are written only through ReplaceLines.
func (t *pgTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = $1, status = $2, issued_date = $3, due_date = $4, paid_date = $5,
			payment_method = $6, payment_reference = $7, notes = $8, terms = $9,
			late_fee_rate = $10, late_fee_type = $11, late_fee_amount = $12, late_fee_applied_at = $13,
			updated_at = NOW()
		WHERE id = $14`,
		inv.AmountPaid, inv.Status, dateArg(inv.IssuedDate), dateArg(inv.DueDate), dateArg(inv.PaidDate),
		inv.PaymentMethod, inv.PaymentReference, inv.Notes, inv.Terms,
		inv.LateFeeRate, inv.LateFeeType, inv.LateFeeAmount, timestampArg(inv.LateFeeAppliedAt),
		inv.ID)
	if err != nil {
		return storageErr("update invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: update invoice %d: %w", inv.ID, shared.ErrNotFound)
	}
	return nil
}

// InsertPayment appends a payment row.
func (t *pgTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := t.q.QueryRow(ctx, `
		INSERT INTO invoice_payments (invoice_id, amount, payment_method, payment_reference, payment_date, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		p.InvoiceID, p.Amount, p.Method, p.Reference, pgtype.Date{Time: DateOnly(p.PaymentDate), Valid: true}, p.Notes,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, storageErr("insert payment", err)
	}
	p.PaymentDate = DateOnly(p.PaymentDate)
	return p, nil
}

// InsertCredit appends a credit row.
func (t *pgTx) InsertCredit(ctx context.Context, c Credit) (Credit, error) {
	err := t.q.QueryRow(ctx, `
		INSERT INTO invoice_credits (invoice_id, deposit_invoice_id, amount, applied_at, applied_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.InvoiceID, c.DepositInvoiceID, c.Amount, c.AppliedAt, c.AppliedBy,
	).Scan(&c.ID)
	if err != nil {
		return Credit{}, storageErr("insert credit", err)
	}
	return c, nil
}

func (t *pgTx) sumCredits(ctx context.Context, column string, id int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM invoice_credits WHERE `+column+` = $1`, id).Scan(&sum)
	if err != nil {
		return decimal.Zero, storageErr("sum credits", err)
	}
	return sum, nil
}

// SumCreditsFromDeposit totals credits drawn from a deposit invoice.
func (t *pgTx) SumCreditsFromDeposit(ctx context.Context, depositInvoiceID int64) (decimal.Decimal, error) {
	return t.sumCredits(ctx, "deposit_invoice_id", depositInvoiceID)
}

// SumCreditsForInvoice totals credits applied to a target invoice.
func (t *pgTx) SumCreditsForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	return t.sumCredits(ctx, "invoice_id", invoiceID)
}

func weekdayArg(r RecurringInvoice) pgtype.Int4 {
	if r.Frequency != FrequencyWeekly {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(r.DayOfWeek), Valid: true}
}

func dayOfMonthArg(r RecurringInvoice) pgtype.Int4 {
	if r.Frequency == FrequencyWeekly || r.DayOfMonth == 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(r.DayOfMonth), Valid: true}
}

// InsertRecurring writes a new pattern.
func (t *pgTx) InsertRecurring(ctx context.Context, r RecurringInvoice) (RecurringInvoice, error) {
	linesJSON, err := json.Marshal(r.Lines)
	if err != nil {
		return RecurringInvoice{}, fmt.Errorf("ledger: encode line items: %w", err)
	}
	start := r.StartDate
	next := r.NextGenerationDate
	err = t.q.QueryRow(ctx, `
		INSERT INTO recurring_invoices (
			project_id, client_id, currency, frequency, day_of_month, day_of_week, line_items,
			payment_terms_days, notes, terms, start_date, end_date, next_generation_date,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		r.ProjectID, r.ClientID, r.Currency, r.Frequency, dayOfMonthArg(r), weekdayArg(r), linesJSON,
		r.PaymentTermsDays, r.Notes, r.Terms, dateArg(&start), dateArg(r.EndDate), dateArg(&next),
		r.IsActive,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return RecurringInvoice{}, storageErr("insert recurring invoice", err)
	}
	return r, nil
}

// LockRecurring loads the pattern with a row lock.
func (t *pgTx) LockRecurring(ctx context.Context, id int64) (RecurringInvoice, error) {
	r, err := scanRecurring(t.q.QueryRow(ctx, `SELECT `+recurringColumns+` FROM recurring_invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return RecurringInvoice{}, storageErr("lock recurring invoice", err)
	}
	return r, nil
}

// UpdateRecurring persists schedule state and the active flag.
func (t *pgTx) UpdateRecurring(ctx context.Context, r RecurringInvoice) error {
	next := r.NextGenerationDate
	tag, err := t.q.Exec(ctx, `
		UPDATE recurring_invoices
		SET next_generation_date = $1, last_generated_at = $2, is_active = $3, end_date = $4, updated_at = NOW()
		WHERE id = $5`,
		dateArg(&next), timestampArg(r.LastGeneratedAt), r.IsActive, dateArg(r.EndDate), r.ID)
	if err != nil {
		return storageErr("update recurring invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: update recurring invoice %d: %w", r.ID, shared.ErrNotFound)
	}
	return nil
}

// InsertScheduled writes a new pending schedule.
func (t *pgTx) InsertScheduled(ctx context.Context, s ScheduledInvoice) (ScheduledInvoice, error) {
	linesJSON, err := json.Marshal(s.Lines)
	if err != nil {
		return ScheduledInvoice{}, fmt.Errorf("ledger: encode line items: %w", err)
	}
	err = t.q.QueryRow(ctx, `
		INSERT INTO scheduled_invoices (
			project_id, client_id, currency, trigger_type, scheduled_date, trigger_milestone_id,
			invoice_type, deposit_percentage, line_items, payment_terms_days, notes, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		s.ProjectID, s.ClientID, s.Currency, s.TriggerType, dateArg(s.ScheduledDate), int8Arg(s.MilestoneID),
		s.InvoiceType, s.DepositPercentage, linesJSON, s.PaymentTermsDays, s.Notes, s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return ScheduledInvoice{}, storageErr("insert scheduled invoice", err)
	}
	return s, nil
}

// LockScheduled loads the schedule with a row lock.
func (t *pgTx) LockScheduled(ctx context.Context, id int64) (ScheduledInvoice, error) {
	s, err := scanScheduled(t.q.QueryRow(ctx, `SELECT `+scheduledColumns+` FROM scheduled_invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return ScheduledInvoice{}, storageErr("lock scheduled invoice", err)
	}
	return s, nil
}

// UpdateScheduled persists status and the generated invoice link.
func (t *pgTx) UpdateScheduled(ctx context.Context, s ScheduledInvoice) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE scheduled_invoices
		SET status = $1, generated_invoice_id = $2, updated_at = NOW()
		WHERE id = $3`, s.Status, int8Arg(s.GeneratedInvoiceID), s.ID)
	if err != nil {
		return storageErr("update scheduled invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: update scheduled invoice %d: %w", s.ID, shared.ErrNotFound)
	}
	return nil
}

// EnsureReminder inserts a reminder unless the (invoice, type) pair exists.
func (t *pgTx) EnsureReminder(ctx context.Context, r Reminder) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO invoice_reminders (invoice_id, reminder_type, scheduled_date, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (invoice_id, reminder_type) DO NOTHING`,
		r.InvoiceID, r.Type, pgtype.Date{Time: DateOnly(r.ScheduledDate), Valid: true}, r.Status)
	if err != nil {
		return false, storageErr("insert reminder", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LockReminder loads a reminder with a row lock.
func (t *pgTx) LockReminder(ctx context.Context, id int64) (Reminder, error) {
	r, err := scanReminder(t.q.QueryRow(ctx, `SELECT `+reminderColumns+` FROM invoice_reminders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Reminder{}, storageErr("lock reminder", err)
	}
	return r, nil
}

// UpdateReminder persists status and sent timestamp.
func (t *pgTx) UpdateReminder(ctx context.Context, r Reminder) error {
	tag, err := t.q.Exec(ctx, `UPDATE invoice_reminders SET status = $1, sent_at = $2 WHERE id = $3`,
		r.Status, timestampArg(r.SentAt), r.ID)
	if err != nil {
		return storageErr("update reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: update reminder %d: %w", r.ID, shared.ErrNotFound)
	}
	return nil
}

// SkipPendingReminders marks pending reminders skipped and reports how many changed.
func (t *pgTx) SkipPendingReminders(ctx context.Context, invoiceID int64) (int, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE invoice_reminders SET status = 'skipped'
		WHERE invoice_id = $1 AND status = 'pending'`, invoiceID)
	if err != nil {
		return 0, storageErr("skip reminders", err)
	}
	return int(tag.RowsAffected()), nil
}
