package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

// Mailer delivers a composed email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SendOutcome reports what SendReminder did.
type SendOutcome struct {
	Reminder  ledger.Reminder `json:"reminder"`
	Delivered bool            `json:"delivered"`
}

// SweepResult summarises a reminder sweep.
type SweepResult struct {
	Invoices int `json:"invoices"`
	Created  int `json:"created"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Service ensures, sends and skips reminder rows.
type Service struct {
	store       ledger.Store
	contacts    ContactDirectory
	mailer      Mailer
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewService constructs the reminder scheduler.
func NewService(store ledger.Store, contacts ContactDirectory, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		contacts:    contacts,
		mailer:      mailer,
		logger:      logger,
		concurrency: 4,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetConcurrency bounds how many invoices a sweep processes at once.
func (s *Service) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// EnsureReminders inserts the missing reminder rows of an open invoice and
// returns how many were created.
func (s *Service) EnsureReminders(ctx context.Context, invoiceID int64) (int, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return 0, err
	}
	return s.ensureFor(ctx, inv)
}

func (s *Service) ensureFor(ctx context.Context, inv ledger.Invoice) (int, error) {
	if !inv.IsOpen() || inv.DueDate == nil {
		return 0, nil
	}
	plan := Plan(inv)
	created := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		created = 0
		for _, r := range plan {
			ok, err := tx.EnsureReminder(ctx, r)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	return created, err
}

// ListReminders returns the reminder rows of an invoice.
func (s *Service) ListReminders(ctx context.Context, invoiceID int64) ([]ledger.Reminder, error) {
	return s.store.ListReminders(ctx, invoiceID)
}

// ListDue returns pending reminders scheduled on or before asOf, the backlog
// the next sweep will work through.
func (s *Service) ListDue(ctx context.Context, asOf time.Time) ([]ledger.Reminder, error) {
	return s.store.ListDueReminders(ctx, asOf)
}

// SendReminder claims a pending, due reminder and delivers it. Rows that are
// no longer pending are returned unchanged; rows of settled or cancelled
// invoices are skipped. A delivery failure marks the row failed.
func (s *Service) SendReminder(ctx context.Context, reminderID int64, asOf time.Time) (SendOutcome, error) {
	var (
		claimed ledger.Reminder
		inv     ledger.Invoice
		send    bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		send = false
		r, err := tx.LockReminder(ctx, reminderID)
		if err != nil {
			return err
		}
		claimed = r
		if r.Status != ledger.ReminderPending {
			return nil
		}
		if !isDue(r, asOf) {
			return fmt.Errorf("reminders: reminder %d is scheduled for %s: %w", r.ID, r.ScheduledDate.Format(time.DateOnly), shared.ErrInvalidState)
		}
		inv, err = tx.LockInvoice(ctx, r.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.IsOpen() {
			r.Status = ledger.ReminderSkipped
		} else {
			sentAt := asOf.UTC()
			r.Status = ledger.ReminderSent
			r.SentAt = &sentAt
			send = true
		}
		if err := tx.UpdateReminder(ctx, r); err != nil {
			return err
		}
		claimed = r
		return nil
	})
	if err != nil {
		return SendOutcome{}, err
	}
	if !send {
		return SendOutcome{Reminder: claimed}, nil
	}

	logger := s.logger.With(slog.Int64("reminder_id", claimed.ID), slog.Int64("invoice_id", inv.ID), slog.String("type", string(claimed.Type)))
	if err := s.deliver(ctx, inv, claimed); err != nil {
		logger.Error("reminder delivery failed", slog.Any("error", err))
		failed, markErr := s.markFailed(ctx, claimed.ID)
		if markErr != nil {
			logger.Error("mark reminder failed", slog.Any("error", markErr))
			return SendOutcome{Reminder: claimed}, nil
		}
		return SendOutcome{Reminder: failed}, nil
	}
	logger.Info("reminder sent")
	return SendOutcome{Reminder: claimed, Delivered: true}, nil
}

func (s *Service) deliver(ctx context.Context, inv ledger.Invoice, r ledger.Reminder) error {
	if s.mailer == nil || s.contacts == nil {
		return errors.New("reminders: mail delivery not configured")
	}
	contact, err := s.contacts.BillingContact(ctx, inv.ClientID)
	if err != nil {
		return err
	}
	credits, err := s.store.ListCreditsForInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	due := inv.Outstanding()
	for _, c := range credits {
		due = due.Sub(c.Amount)
	}
	msg, err := Compose(inv, r, contact, decimal.Max(due, decimal.Zero))
	if err != nil {
		return err
	}
	return s.mailer.SendEmail(ctx, msg.To, msg.Subject, msg.Body)
}

func (s *Service) markFailed(ctx context.Context, id int64) (ledger.Reminder, error) {
	var out ledger.Reminder
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockReminder(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != ledger.ReminderSent {
			out = r
			return nil
		}
		r.Status = ledger.ReminderFailed
		out = r
		return tx.UpdateReminder(ctx, r)
	})
	return out, err
}

// SkipReminder marks a pending reminder skipped without sending it.
func (s *Service) SkipReminder(ctx context.Context, reminderID int64) (ledger.Reminder, error) {
	var out ledger.Reminder
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockReminder(ctx, reminderID)
		if err != nil {
			return err
		}
		if r.Status != ledger.ReminderPending {
			return fmt.Errorf("reminders: reminder %d is %s: %w", r.ID, r.Status, shared.ErrInvalidState)
		}
		r.Status = ledger.ReminderSkipped
		out = r
		return tx.UpdateReminder(ctx, r)
	})
	return out, err
}

// Sweep ensures reminder rows for every open invoice and sends, per invoice,
// only the most recent due step. Older due steps are skipped so a client is
// never sent a backlog of reminders at once.
func (s *Service) Sweep(ctx context.Context, asOf time.Time) (SweepResult, error) {
	open, err := s.store.ListOpenInvoices(ctx, nil)
	if err != nil {
		return SweepResult{}, err
	}

	var (
		mu     sync.Mutex
		result = SweepResult{Invoices: len(open)}
		errs   []error
	)
	record := func(fn func(*SweepResult), err error) {
		mu.Lock()
		defer mu.Unlock()
		if fn != nil {
			fn(&result)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, inv := range open {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			created, err := s.ensureFor(ctx, inv)
			if err != nil {
				record(nil, fmt.Errorf("invoice %d: %w", inv.ID, err))
				return nil
			}
			record(func(r *SweepResult) { r.Created += created }, nil)
			s.sweepInvoice(ctx, inv.ID, asOf, record)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("reminder sweep finished",
		slog.String("as_of", asOf.Format(time.DateOnly)),
		slog.Int("invoices", result.Invoices),
		slog.Int("created", result.Created),
		slog.Int("sent", result.Sent),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}

func (s *Service) sweepInvoice(ctx context.Context, invoiceID int64, asOf time.Time, record func(func(*SweepResult), error)) {
	rows, err := s.store.ListReminders(ctx, invoiceID)
	if err != nil {
		record(nil, fmt.Errorf("invoice %d: %w", invoiceID, err))
		return
	}
	var due []ledger.Reminder
	for _, r := range rows {
		if r.Status == ledger.ReminderPending && isDue(r, asOf) {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledDate.Before(due[j].ScheduledDate) })

	s.skipStale(ctx, due[:len(due)-1], record)

	latest := due[len(due)-1]
	outcome, err := s.SendReminder(ctx, latest.ID, asOf)
	if err != nil {
		record(nil, fmt.Errorf("reminder %d: %w", latest.ID, err))
		return
	}
	switch {
	case outcome.Delivered:
		record(func(r *SweepResult) { r.Sent++ }, nil)
	case outcome.Reminder.Status == ledger.ReminderFailed:
		record(func(r *SweepResult) { r.Failed++ }, nil)
	case outcome.Reminder.Status == ledger.ReminderSkipped:
		record(func(r *SweepResult) { r.Skipped++ }, nil)
	}
}

// skipStale retires reminders superseded by a later step. Rows that stopped
// being pending since they were listed are left alone and not counted.
func (s *Service) skipStale(ctx context.Context, stale []ledger.Reminder, record func(func(*SweepResult), error)) {
	for _, r := range stale {
		_, err := s.SkipReminder(ctx, r.ID)
		switch {
		case err == nil:
			record(func(res *SweepResult) { res.Skipped++ }, nil)
		case !errors.Is(err, shared.ErrInvalidState):
			record(nil, fmt.Errorf("reminder %d: %w", r.ID, err))
		}
	}
}
