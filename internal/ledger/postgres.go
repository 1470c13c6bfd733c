package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/db"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore provides PostgreSQL backed persistence for the ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// WithTx runs fn inside a repeatable-read transaction, retrying serialization conflicts.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidState) || errors.Is(err, shared.ErrStorage) {
		return err
	}
	return fmt.Errorf("ledger: transaction: %w: %w", shared.ErrStorage, err)
}

func storageErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ledger: %s: %w", op, shared.ErrNotFound)
	}
	return fmt.Errorf("ledger: %s: %w: %w", op, shared.ErrStorage, err)
}

const invoiceColumns = `
	id, invoice_number, project_id, client_id, currency, invoice_type, deposit_percentage,
	subtotal, tax_total, discount_total, amount_total, amount_paid, status,
	issued_date, due_date, paid_date, payment_method, payment_reference, notes, terms,
	late_fee_rate, late_fee_type, late_fee_amount, late_fee_applied_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var issued, due, paid pgtype.Date
	var feeApplied pgtype.Timestamptz
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.ProjectID, &inv.ClientID, &inv.Currency, &inv.Type, &inv.DepositPercentage,
		&inv.Subtotal, &inv.TaxTotal, &inv.DiscountTotal, &inv.AmountTotal, &inv.AmountPaid, &inv.Status,
		&issued, &due, &paid, &inv.PaymentMethod, &inv.PaymentReference, &inv.Notes, &inv.Terms,
		&inv.LateFeeRate, &inv.LateFeeType, &inv.LateFeeAmount, &feeApplied, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return Invoice{}, err
	}
	inv.IssuedDate = dateValue(issued)
	inv.DueDate = dateValue(due)
	inv.PaidDate = dateValue(paid)
	if feeApplied.Valid {
		t := feeApplied.Time
		inv.LateFeeAppliedAt = &t
	}
	return inv, nil
}

func dateValue(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := DateOnly(d.Time)
	return &t
}

func dateArg(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: DateOnly(*t), Valid: true}
}

func timestampArg(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func int8Arg(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func int8Value(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func getInvoice(ctx context.Context, q querier, id int64, lock bool) (Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if err != nil {
		return Invoice{}, storageErr("get invoice", err)
	}
	lines, err := listLines(ctx, q, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines = lines
	return inv, nil
}

func listLines(ctx context.Context, q querier, invoiceID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price, amount,
			tax_rate, tax_amount, discount_rate, discount_amount, sort_order
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY sort_order, id`, invoiceID)
	if err != nil {
		return nil, storageErr("list line items", err)
	}
	defer rows.Close()

	var lines []LineItem
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Description, &l.Quantity, &l.UnitPrice, &l.Amount,
			&l.TaxRate, &l.TaxAmount, &l.DiscountRate, &l.DiscountAmount, &l.SortOrder); err != nil {
			return nil, storageErr("scan line item", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list line items", err)
	}
	return lines, nil
}

func queryInvoices(ctx context.Context, q querier, op, query string, args ...any) ([]Invoice, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// GetInvoice loads an invoice with its line items.
func (s *PostgresStore) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, s.pool, id, false)
}

// ListInvoices returns invoices matching the filter without line items.
func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	query, args := invoiceListQuery(filter)
	return queryInvoices(ctx, s.pool, "list invoices", query, args...)
}

// invoiceListQuery builds the filtered invoice select. Status filters match
// the effective status, so overdue is derived from due_date against AsOf.
func invoiceListQuery(filter InvoiceFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ClientID != nil {
		add("client_id = $%d", *filter.ClientID)
	}
	if filter.ProjectID != nil {
		add("project_id = $%d", *filter.ProjectID)
	}
	asOf := DateOnly(filter.AsOf)
	switch filter.Status {
	case "":
	case StatusOverdue:
		conds = append(conds, "status IN ('sent','viewed','partial','overdue')")
		add("due_date < $%d", asOf)
	case StatusSent, StatusViewed, StatusPartial:
		add("status = $%d", filter.Status)
		add("(due_date IS NULL OR due_date >= $%d)", asOf)
	default:
		add("status = $%d", filter.Status)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return query, args
}

// ListOpenInvoices returns issued invoices with an outstanding balance.
func (s *PostgresStore) ListOpenInvoices(ctx context.Context, clientID *int64) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE status IN ('sent','viewed','partial','overdue') AND amount_total > amount_paid`
	var args []any
	if clientID != nil {
		query += ` AND client_id = $1`
		args = append(args, *clientID)
	}
	query += ` ORDER BY due_date NULLS LAST, id`
	return queryInvoices(ctx, s.pool, "list open invoices", query, args...)
}

// ListPayments returns the payment history of an invoice, oldest first.
func (s *PostgresStore) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, amount, payment_method, payment_reference, payment_date, notes, created_at
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY payment_date, id`, invoiceID)
	if err != nil {
		return nil, storageErr("list payments", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		var paidOn pgtype.Date
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &paidOn, &p.Notes, &p.CreatedAt); err != nil {
			return nil, storageErr("scan payment", err)
		}
		if d := dateValue(paidOn); d != nil {
			p.PaymentDate = *d
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list payments", err)
	}
	return out, nil
}

func (s *PostgresStore) listCredits(ctx context.Context, column string, id int64) ([]Credit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, deposit_invoice_id, amount, applied_at, applied_by
		FROM invoice_credits
		WHERE `+column+` = $1
		ORDER BY applied_at, id`, id)
	if err != nil {
		return nil, storageErr("list credits", err)
	}
	defer rows.Close()

	var out []Credit
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.InvoiceID, &c.DepositInvoiceID, &c.Amount, &c.AppliedAt, &c.AppliedBy); err != nil {
			return nil, storageErr("scan credit", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list credits", err)
	}
	return out, nil
}

// ListCreditsForInvoice returns credits targeting the invoice.
func (s *PostgresStore) ListCreditsForInvoice(ctx context.Context, invoiceID int64) ([]Credit, error) {
	return s.listCredits(ctx, "invoice_id", invoiceID)
}

// ListCreditsFromDeposit returns credits drawn from the deposit invoice.
func (s *PostgresStore) ListCreditsFromDeposit(ctx context.Context, depositInvoiceID int64) ([]Credit, error) {
	return s.listCredits(ctx, "deposit_invoice_id", depositInvoiceID)
}

const recurringColumns = `
	id, project_id, client_id, currency, frequency, day_of_month, day_of_week, line_items,
	payment_terms_days, notes, terms, start_date, end_date, next_generation_date,
	last_generated_at, is_active, created_at, updated_at`

func scanRecurring(row pgx.Row) (RecurringInvoice, error) {
	var r RecurringInvoice
	var dom, dow pgtype.Int4
	var linesJSON []byte
	var start, next, end pgtype.Date
	var last pgtype.Timestamptz
	err := row.Scan(&r.ID, &r.ProjectID, &r.ClientID, &r.Currency, &r.Frequency, &dom, &dow, &linesJSON,
		&r.PaymentTermsDays, &r.Notes, &r.Terms, &start, &end, &next,
		&last, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return RecurringInvoice{}, err
	}
	if dom.Valid {
		r.DayOfMonth = int(dom.Int32)
	}
	if dow.Valid {
		r.DayOfWeek = time.Weekday(dow.Int32)
	}
	if err := json.Unmarshal(linesJSON, &r.Lines); err != nil {
		return RecurringInvoice{}, fmt.Errorf("decode line items: %w", err)
	}
	r.StartDate = DateOnly(start.Time)
	r.NextGenerationDate = DateOnly(next.Time)
	r.EndDate = dateValue(end)
	if last.Valid {
		t := last.Time
		r.LastGeneratedAt = &t
	}
	return r, nil
}

func queryRecurring(ctx context.Context, q querier, op, query string, args ...any) ([]RecurringInvoice, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []RecurringInvoice
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// GetRecurring loads a recurring pattern.
func (s *PostgresStore) GetRecurring(ctx context.Context, id int64) (RecurringInvoice, error) {
	r, err := scanRecurring(s.pool.QueryRow(ctx, `SELECT `+recurringColumns+` FROM recurring_invoices WHERE id = $1`, id))
	if err != nil {
		return RecurringInvoice{}, storageErr("get recurring invoice", err)
	}
	return r, nil
}

// ListRecurring lists patterns, optionally only active ones.
func (s *PostgresStore) ListRecurring(ctx context.Context, activeOnly bool) ([]RecurringInvoice, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_invoices`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY next_generation_date, id`
	return queryRecurring(ctx, s.pool, "list recurring invoices", query)
}

// ListDueRecurring lists active patterns due on or before asOf whose range still covers asOf.
func (s *PostgresStore) ListDueRecurring(ctx context.Context, asOf time.Time) ([]RecurringInvoice, error) {
	return queryRecurring(ctx, s.pool, "list due recurring invoices", `SELECT `+recurringColumns+`
		FROM recurring_invoices
		WHERE is_active AND next_generation_date <= $1 AND (end_date IS NULL OR end_date >= $1)
		ORDER BY next_generation_date, id`, DateOnly(asOf))
}

const scheduledColumns = `
	id, project_id, client_id, currency, trigger_type, scheduled_date, trigger_milestone_id,
	invoice_type, deposit_percentage, line_items, payment_terms_days, notes, status,
	generated_invoice_id, created_at, updated_at`

func scanScheduled(row pgx.Row) (ScheduledInvoice, error) {
	var s ScheduledInvoice
	var date pgtype.Date
	var milestone, generated pgtype.Int8
	var linesJSON []byte
	err := row.Scan(&s.ID, &s.ProjectID, &s.ClientID, &s.Currency, &s.TriggerType, &date, &milestone,
		&s.InvoiceType, &s.DepositPercentage, &linesJSON, &s.PaymentTermsDays, &s.Notes, &s.Status,
		&generated, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return ScheduledInvoice{}, err
	}
	if err := json.Unmarshal(linesJSON, &s.Lines); err != nil {
		return ScheduledInvoice{}, fmt.Errorf("decode line items: %w", err)
	}
	s.ScheduledDate = dateValue(date)
	s.MilestoneID = int8Value(milestone)
	s.GeneratedInvoiceID = int8Value(generated)
	return s, nil
}

func queryScheduled(ctx context.Context, q querier, op, query string, args ...any) ([]ScheduledInvoice, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []ScheduledInvoice
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// GetScheduled loads a scheduled invoice.
func (s *PostgresStore) GetScheduled(ctx context.Context, id int64) (ScheduledInvoice, error) {
	sched, err := scanScheduled(s.pool.QueryRow(ctx, `SELECT `+scheduledColumns+` FROM scheduled_invoices WHERE id = $1`, id))
	if err != nil {
		return ScheduledInvoice{}, storageErr("get scheduled invoice", err)
	}
	return sched, nil
}

// ListDueScheduled lists pending date triggers on or before asOf.
func (s *PostgresStore) ListDueScheduled(ctx context.Context, asOf time.Time) ([]ScheduledInvoice, error) {
	return queryScheduled(ctx, s.pool, "list due scheduled invoices", `SELECT `+scheduledColumns+`
		FROM scheduled_invoices
		WHERE status = 'pending' AND trigger_type = 'date' AND scheduled_date <= $1
		ORDER BY scheduled_date, id`, DateOnly(asOf))
}

// ListScheduledForMilestone lists pending milestone triggers bound to milestoneID.
func (s *PostgresStore) ListScheduledForMilestone(ctx context.Context, milestoneID int64) ([]ScheduledInvoice, error) {
	return queryScheduled(ctx, s.pool, "list milestone scheduled invoices", `SELECT `+scheduledColumns+`
		FROM scheduled_invoices
		WHERE status = 'pending' AND trigger_type = 'milestone_complete' AND trigger_milestone_id = $1
		ORDER BY id`, milestoneID)
}

const reminderColumns = `id, invoice_id, reminder_type, scheduled_date, sent_at, status, created_at`

func scanReminder(row pgx.Row) (Reminder, error) {
	var r Reminder
	var date pgtype.Date
	var sent pgtype.Timestamptz
	if err := row.Scan(&r.ID, &r.InvoiceID, &r.Type, &date, &sent, &r.Status, &r.CreatedAt); err != nil {
		return Reminder{}, err
	}
	r.ScheduledDate = DateOnly(date.Time)
	if sent.Valid {
		t := sent.Time
		r.SentAt = &t
	}
	return r, nil
}

func queryReminders(ctx context.Context, q querier, op, query string, args ...any) ([]Reminder, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// GetReminder loads a reminder row.
func (s *PostgresStore) GetReminder(ctx context.Context, id int64) (Reminder, error) {
	r, err := scanReminder(s.pool.QueryRow(ctx, `SELECT `+reminderColumns+` FROM invoice_reminders WHERE id = $1`, id))
	if err != nil {
		return Reminder{}, storageErr("get reminder", err)
	}
	return r, nil
}

// ListReminders returns all reminder rows of an invoice ordered by schedule.
func (s *PostgresStore) ListReminders(ctx context.Context, invoiceID int64) ([]Reminder, error) {
	return queryReminders(ctx, s.pool, "list reminders", `SELECT `+reminderColumns+`
		FROM invoice_reminders WHERE invoice_id = $1 ORDER BY scheduled_date, id`, invoiceID)
}

// ListDueReminders returns pending reminders scheduled on or before asOf.
func (s *PostgresStore) ListDueReminders(ctx context.Context, asOf time.Time) ([]Reminder, error) {
	return queryReminders(ctx, s.pool, "list due reminders", `SELECT `+reminderColumns+`
		FROM invoice_reminders
		WHERE status = 'pending' AND scheduled_date <= $1
		ORDER BY invoice_id, scheduled_date, id`, DateOnly(asOf))
}
