// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

type state struct {
	nextID    int64
	sequences map[string]int64
	invoices  map[int64]ledger.Invoice
	payments  map[int64]ledger.Payment
	credits   map[int64]ledger.Credit
	recurring map[int64]ledger.RecurringInvoice
	scheduled map[int64]ledger.ScheduledInvoice
	reminders map[int64]ledger.Reminder
}

func newState() *state {
	return &state{
		sequences: map[string]int64{},
		invoices:  map[int64]ledger.Invoice{},
		payments:  map[int64]ledger.Payment{},
		credits:   map[int64]ledger.Credit{},
		recurring: map[int64]ledger.RecurringInvoice{},
		scheduled: map[int64]ledger.ScheduledInvoice{},
		reminders: map[int64]ledger.Reminder{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	for k, v := range s.recurring {
		v.Lines = append([]ledger.LineTemplate(nil), v.Lines...)
		c.recurring[k] = v
	}
	for k, v := range s.scheduled {
		v.Lines = append([]ledger.LineTemplate(nil), v.Lines...)
		c.scheduled[k] = v
	}
	for k, v := range s.reminders {
		c.reminders[k] = v
	}
	return c
}

func copyInvoice(inv ledger.Invoice) ledger.Invoice {
	inv.Lines = append([]ledger.LineItem(nil), inv.Lines...)
	return inv
}

// Store keeps the whole ledger in maps. Transactions are serialized and
// applied copy-on-commit, so a failing callback leaves no trace.
type Store struct {
	mu    sync.RWMutex
	st    *state
	now   func() time.Time
	fails map[string]error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		st:    newState(),
		now:   func() time.Time { return time.Now().UTC() },
		fails: map[string]error{},
	}
}

var _ ledger.Store = (*Store)(nil)

// FailOn makes the next transactional call of op return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] = err
}

// WithTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledgertest: %w: %w", shared.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, &memTx{store: s, st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("ledgertest: %s %d: %w", kind, id, shared.ErrNotFound)
}

// GetInvoice returns a copy of the invoice.
func (s *Store) GetInvoice(_ context.Context, id int64) (ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.st.invoices[id]
	if !ok {
		return ledger.Invoice{}, notFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

// ListInvoices filters invoices by client, project and effective status.
func (s *Store) ListInvoices(_ context.Context, filter ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Invoice
	for _, inv := range s.st.invoices {
		if filter.ClientID != nil && inv.ClientID != *filter.ClientID {
			continue
		}
		if filter.ProjectID != nil && inv.ProjectID != *filter.ProjectID {
			continue
		}
		if filter.Status != "" && inv.EffectiveStatus(filter.AsOf) != filter.Status {
			continue
		}
		inv.Lines = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListOpenInvoices returns issued invoices that still owe money.
func (s *Store) ListOpenInvoices(_ context.Context, clientID *int64) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Invoice
	for _, inv := range s.st.invoices {
		if !inv.IsOpen() || !inv.AmountTotal.GreaterThan(inv.AmountPaid) {
			continue
		}
		if clientID != nil && inv.ClientID != *clientID {
			continue
		}
		inv.Lines = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DueDate, out[j].DueDate
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListPayments returns payments of an invoice, oldest first.
func (s *Store) ListPayments(_ context.Context, invoiceID int64) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Payment
	for _, p := range s.st.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) credits(match func(ledger.Credit) bool) []ledger.Credit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Credit
	for _, c := range s.st.credits {
		if match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListCreditsForInvoice returns credits targeting the invoice.
func (s *Store) ListCreditsForInvoice(_ context.Context, invoiceID int64) ([]ledger.Credit, error) {
	return s.credits(func(c ledger.Credit) bool { return c.InvoiceID == invoiceID }), nil
}

// ListCreditsFromDeposit returns credits drawn from the deposit.
func (s *Store) ListCreditsFromDeposit(_ context.Context, depositInvoiceID int64) ([]ledger.Credit, error) {
	return s.credits(func(c ledger.Credit) bool { return c.DepositInvoiceID == depositInvoiceID }), nil
}

// GetRecurring returns a copy of the pattern.
func (s *Store) GetRecurring(_ context.Context, id int64) (ledger.RecurringInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.recurring[id]
	if !ok {
		return ledger.RecurringInvoice{}, notFound("recurring invoice", id)
	}
	return r, nil
}

// ListRecurring lists patterns ordered by next generation date.
func (s *Store) ListRecurring(_ context.Context, activeOnly bool) ([]ledger.RecurringInvoice, error) {
	return s.recurringWhere(func(r ledger.RecurringInvoice) bool { return !activeOnly || r.IsActive }), nil
}

// ListDueRecurring lists active patterns due on or before asOf.
func (s *Store) ListDueRecurring(_ context.Context, asOf time.Time) ([]ledger.RecurringInvoice, error) {
	day := ledger.DateOnly(asOf)
	return s.recurringWhere(func(r ledger.RecurringInvoice) bool {
		return r.IsActive && !r.NextGenerationDate.After(day) && (r.EndDate == nil || !r.EndDate.Before(day))
	}), nil
}

func (s *Store) recurringWhere(match func(ledger.RecurringInvoice) bool) []ledger.RecurringInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.RecurringInvoice
	for _, r := range s.st.recurring {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextGenerationDate.Equal(out[j].NextGenerationDate) {
			return out[i].NextGenerationDate.Before(out[j].NextGenerationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetScheduled returns a copy of the schedule.
func (s *Store) GetScheduled(_ context.Context, id int64) (ledger.ScheduledInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.st.scheduled[id]
	if !ok {
		return ledger.ScheduledInvoice{}, notFound("scheduled invoice", id)
	}
	return sched, nil
}

// ListDueScheduled lists pending date triggers on or before asOf.
func (s *Store) ListDueScheduled(_ context.Context, asOf time.Time) ([]ledger.ScheduledInvoice, error) {
	day := ledger.DateOnly(asOf)
	return s.scheduledWhere(func(sc ledger.ScheduledInvoice) bool {
		return sc.Status == ledger.SchedulePending && sc.TriggerType == ledger.TriggerDate &&
			sc.ScheduledDate != nil && !sc.ScheduledDate.After(day)
	}), nil
}

// ListScheduledForMilestone lists pending schedules bound to the milestone.
func (s *Store) ListScheduledForMilestone(_ context.Context, milestoneID int64) ([]ledger.ScheduledInvoice, error) {
	return s.scheduledWhere(func(sc ledger.ScheduledInvoice) bool {
		return sc.Status == ledger.SchedulePending && sc.TriggerType == ledger.TriggerMilestoneComplete &&
			sc.MilestoneID != nil && *sc.MilestoneID == milestoneID
	}), nil
}

func (s *Store) scheduledWhere(match func(ledger.ScheduledInvoice) bool) []ledger.ScheduledInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.ScheduledInvoice
	for _, sc := range s.st.scheduled {
		if match(sc) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetReminder returns a copy of the reminder.
func (s *Store) GetReminder(_ context.Context, id int64) (ledger.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.reminders[id]
	if !ok {
		return ledger.Reminder{}, notFound("reminder", id)
	}
	return r, nil
}

// ListReminders returns the reminders of an invoice ordered by schedule.
func (s *Store) ListReminders(_ context.Context, invoiceID int64) ([]ledger.Reminder, error) {
	return s.remindersWhere(func(r ledger.Reminder) bool { return r.InvoiceID == invoiceID }), nil
}

// ListDueReminders returns pending reminders scheduled on or before asOf.
func (s *Store) ListDueReminders(_ context.Context, asOf time.Time) ([]ledger.Reminder, error) {
	day := ledger.DateOnly(asOf)
	return s.remindersWhere(func(r ledger.Reminder) bool {
		return r.Status == ledger.ReminderPending && !r.ScheduledDate.After(day)
	}), nil
}

func (s *Store) remindersWhere(match func(ledger.Reminder) bool) []ledger.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Reminder
	for _, r := range s.st.reminders {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InvoiceID != out[j].InvoiceID {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// memTx mutates a private state copy. The store's write lock is held by WithTx.
type memTx struct {
	store *Store
	st    *state
}

func (t *memTx) fail(op string) error {
	if err, ok := t.store.fails[op]; ok {
		delete(t.store.fails, op)
		return fmt.Errorf("ledgertest: %s: %w: %w", op, shared.ErrStorage, err)
	}
	return nil
}

func (t *memTx) id() int64 {
	t.st.nextID++
	return t.st.nextID
}

func (t *memTx) LockInvoice(_ context.Context, id int64) (ledger.Invoice, error) {
	if err := t.fail("LockInvoice"); err != nil {
		return ledger.Invoice{}, err
	}
	inv, ok := t.st.invoices[id]
	if !ok {
		return ledger.Invoice{}, notFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

func (t *memTx) InsertInvoice(_ context.Context, in ledger.NewInvoice) (ledger.Invoice, error) {
	if err := t.fail("InsertInvoice"); err != nil {
		return ledger.Invoice{}, err
	}
	t.st.sequences[in.Prefix]++
	now := t.store.now()
	inv := ledger.Invoice{
		ID:                t.id(),
		Number:            fmt.Sprintf("%s-%06d", in.Prefix, t.st.sequences[in.Prefix]),
		ProjectID:         in.ProjectID,
		ClientID:          in.ClientID,
		Currency:          in.Currency,
		Type:              in.Type,
		DepositPercentage: in.DepositPercentage,
		Subtotal:          in.Totals.Subtotal,
		TaxTotal:          in.Totals.TaxTotal,
		DiscountTotal:     in.Totals.DiscountTotal,
		AmountTotal:       in.Totals.AmountTotal,
		AmountPaid:        decimal.Zero,
		Status:            in.Status,
		IssuedDate:        dateCopy(in.IssuedDate),
		DueDate:           dateCopy(in.DueDate),
		Notes:             in.Notes,
		Terms:             in.Terms,
		LateFeeRate:       in.LateFeeRate,
		LateFeeType:       in.LateFeeType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	inv.Lines = t.linesFor(inv.ID, in.Lines)
	t.st.invoices[inv.ID] = inv
	return copyInvoice(inv), nil
}

func (t *memTx) linesFor(invoiceID int64, lines []ledger.LineItem) []ledger.LineItem {
	out := make([]ledger.LineItem, 0, len(lines))
	for _, l := range lines {
		l.ID = t.id()
		l.InvoiceID = invoiceID
		out = append(out, l)
	}
	return out
}

func dateCopy(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := ledger.DateOnly(*t)
	return &d
}

func (t *memTx) ReplaceLines(_ context.Context, invoiceID int64, lines []ledger.LineItem, totals ledger.Totals) error {
	inv, ok := t.st.invoices[invoiceID]
	if !ok {
		return notFound("invoice", invoiceID)
	}
	if inv.Status != ledger.StatusDraft {
		return fmt.Errorf("ledgertest: replace lines: %w: invoice %d is not a draft", shared.ErrInvalidState, invoiceID)
	}
	inv.Lines = t.linesFor(invoiceID, lines)
	inv.Subtotal = totals.Subtotal
	inv.TaxTotal = totals.TaxTotal
	inv.DiscountTotal = totals.DiscountTotal
	inv.AmountTotal = totals.AmountTotal
	inv.UpdatedAt = t.store.now()
	t.st.invoices[invoiceID] = inv
	return nil
}

func (t *memTx) UpdateInvoice(_ context.Context, inv ledger.Invoice) error {
	if err := t.fail("UpdateInvoice"); err != nil {
		return err
	}
	cur, ok := t.st.invoices[inv.ID]
	if !ok {
		return notFound("invoice", inv.ID)
	}
	cur.AmountPaid = inv.AmountPaid
	cur.Status = inv.Status
	cur.IssuedDate = dateCopy(inv.IssuedDate)
	cur.DueDate = dateCopy(inv.DueDate)
	cur.PaidDate = dateCopy(inv.PaidDate)
	cur.PaymentMethod = inv.PaymentMethod
	cur.PaymentReference = inv.PaymentReference
	cur.Notes = inv.Notes
	cur.Terms = inv.Terms
	cur.LateFeeRate = inv.LateFeeRate
	cur.LateFeeType = inv.LateFeeType
	cur.LateFeeAmount = inv.LateFeeAmount
	cur.LateFeeAppliedAt = inv.LateFeeAppliedAt
	cur.UpdatedAt = t.store.now()
	t.st.invoices[inv.ID] = cur
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p ledger.Payment) (ledger.Payment, error) {
	if err := t.fail("InsertPayment"); err != nil {
		return ledger.Payment{}, err
	}
	p.ID = t.id()
	p.PaymentDate = ledger.DateOnly(p.PaymentDate)
	p.CreatedAt = t.store.now()
	t.st.payments[p.ID] = p
	return p, nil
}

func (t *memTx) InsertCredit(_ context.Context, c ledger.Credit) (ledger.Credit, error) {
	if err := t.fail("InsertCredit"); err != nil {
		return ledger.Credit{}, err
	}
	c.ID = t.id()
	t.st.credits[c.ID] = c
	return c, nil
}

func (t *memTx) SumCreditsFromDeposit(_ context.Context, depositInvoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range t.st.credits {
		if c.DepositInvoiceID == depositInvoiceID {
			sum = sum.Add(c.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) SumCreditsForInvoice(_ context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range t.st.credits {
		if c.InvoiceID == invoiceID {
			sum = sum.Add(c.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) InsertRecurring(_ context.Context, r ledger.RecurringInvoice) (ledger.RecurringInvoice, error) {
	r.ID = t.id()
	r.CreatedAt = t.store.now()
	r.UpdatedAt = r.CreatedAt
	r.StartDate = ledger.DateOnly(r.StartDate)
	r.NextGenerationDate = ledger.DateOnly(r.NextGenerationDate)
	r.EndDate = dateCopy(r.EndDate)
	t.st.recurring[r.ID] = r
	return r, nil
}

func (t *memTx) LockRecurring(_ context.Context, id int64) (ledger.RecurringInvoice, error) {
	r, ok := t.st.recurring[id]
	if !ok {
		return ledger.RecurringInvoice{}, notFound("recurring invoice", id)
	}
	return r, nil
}

func (t *memTx) UpdateRecurring(_ context.Context, r ledger.RecurringInvoice) error {
	if err := t.fail("UpdateRecurring"); err != nil {
		return err
	}
	cur, ok := t.st.recurring[r.ID]
	if !ok {
		return notFound("recurring invoice", r.ID)
	}
	cur.NextGenerationDate = ledger.DateOnly(r.NextGenerationDate)
	cur.LastGeneratedAt = r.LastGeneratedAt
	cur.IsActive = r.IsActive
	cur.EndDate = dateCopy(r.EndDate)
	cur.UpdatedAt = t.store.now()
	t.st.recurring[r.ID] = cur
	return nil
}

func (t *memTx) InsertScheduled(_ context.Context, sc ledger.ScheduledInvoice) (ledger.ScheduledInvoice, error) {
	sc.ID = t.id()
	sc.CreatedAt = t.store.now()
	sc.UpdatedAt = sc.CreatedAt
	sc.ScheduledDate = dateCopy(sc.ScheduledDate)
	t.st.scheduled[sc.ID] = sc
	return sc, nil
}

func (t *memTx) LockScheduled(_ context.Context, id int64) (ledger.ScheduledInvoice, error) {
	sc, ok := t.st.scheduled[id]
	if !ok {
		return ledger.ScheduledInvoice{}, notFound("scheduled invoice", id)
	}
	return sc, nil
}

func (t *memTx) UpdateScheduled(_ context.Context, sc ledger.ScheduledInvoice) error {
	if err := t.fail("UpdateScheduled"); err != nil {
		return err
	}
	cur, ok := t.st.scheduled[sc.ID]
	if !ok {
		return notFound("scheduled invoice", sc.ID)
	}
	cur.Status = sc.Status
	cur.GeneratedInvoiceID = sc.GeneratedInvoiceID
	cur.UpdatedAt = t.store.now()
	t.st.scheduled[sc.ID] = cur
	return nil
}

func (t *memTx) EnsureReminder(_ context.Context, r ledger.Reminder) (bool, error) {
	for _, existing := range t.st.reminders {
		if existing.InvoiceID == r.InvoiceID && existing.Type == r.Type {
			return false, nil
		}
	}
	r.ID = t.id()
	r.ScheduledDate = ledger.DateOnly(r.ScheduledDate)
	r.CreatedAt = t.store.now()
	t.st.reminders[r.ID] = r
	return true, nil
}

func (t *memTx) LockReminder(_ context.Context, id int64) (ledger.Reminder, error) {
	r, ok := t.st.reminders[id]
	if !ok {
		return ledger.Reminder{}, notFound("reminder", id)
	}
	return r, nil
}

func (t *memTx) UpdateReminder(_ context.Context, r ledger.Reminder) error {
	if err := t.fail("UpdateReminder"); err != nil {
		return err
	}
	cur, ok := t.st.reminders[r.ID]
	if !ok {
		return notFound("reminder", r.ID)
	}
	cur.Status = r.Status
	cur.SentAt = r.SentAt
	t.st.reminders[r.ID] = cur
	return nil
}

func (t *memTx) SkipPendingReminders(_ context.Context, invoiceID int64) (int, error) {
	n := 0
	for id, r := range t.st.reminders {
		if r.InvoiceID == invoiceID && r.Status == ledger.ReminderPending {
			r.Status = ledger.ReminderSkipped
			t.st.reminders[id] = r
			n++
		}
	}
	return n, nil
}
