package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger/ledgertest"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

var issuedAt = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

type sentMail struct {
	to, subject, body string
}

type stubMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *stubMailer) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *stubMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fixture struct {
	svc     *Service
	billing *billing.Service
	store   *ledgertest.Store
	mailer  *stubMailer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := ledgertest.NewStore()
	bill := billing.NewService(store, billing.Config{}, nil)
	bill.WithNow(func() time.Time { return issuedAt })
	mailer := &stubMailer{}
	dir := StaticDirectory{7: {Name: "Dana", Email: "billing@client.test"}}
	svc := NewService(store, dir, mailer, nil)
	svc.WithNow(func() time.Time { return issuedAt })
	return fixture{svc: svc, billing: bill, store: store, mailer: mailer}
}

// issue creates and sends a 1000.00 invoice due 2026-04-14.
func (f fixture) issue(t *testing.T) ledger.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.billing.CreateInvoice(ctx, billing.CreateInvoiceInput{
		ProjectID: 1,
		ClientID:  7,
		Lines:     []ledger.LineTemplate{{Description: "Retainer", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1000)}},
	})
	require.NoError(t, err)
	sent, err := f.billing.SendInvoice(ctx, inv.ID)
	require.NoError(t, err)
	return sent
}

func (f fixture) reminder(t *testing.T, invoiceID int64, typ ledger.ReminderType) ledger.Reminder {
	t.Helper()
	rows, err := f.store.ListReminders(context.Background(), invoiceID)
	require.NoError(t, err)
	for _, r := range rows {
		if r.Type == typ {
			return r
		}
	}
	t.Fatalf("no %s reminder for invoice %d", typ, invoiceID)
	return ledger.Reminder{}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlanLaddersFromDueDate(t *testing.T) {
	due := day(2026, 4, 14)
	inv := ledger.Invoice{ID: 1, IssuedDate: &issuedAt, DueDate: &due}

	plan := Plan(inv)
	require.Len(t, plan, 6)
	want := map[ledger.ReminderType]time.Time{
		ledger.ReminderUpcoming:  day(2026, 4, 11),
		ledger.ReminderDue:       day(2026, 4, 14),
		ledger.ReminderOverdue3:  day(2026, 4, 17),
		ledger.ReminderOverdue7:  day(2026, 4, 21),
		ledger.ReminderOverdue14: day(2026, 4, 28),
		ledger.ReminderOverdue30: day(2026, 5, 14),
	}
	for _, r := range plan {
		require.Equal(t, want[r.Type], r.ScheduledDate, r.Type)
		require.Equal(t, ledger.ReminderPending, r.Status)
	}

	shortDue := day(2026, 3, 16)
	inv.DueDate = &shortDue
	plan = Plan(inv)
	require.Len(t, plan, 5)
	require.Equal(t, ledger.ReminderDue, plan[0].Type)

	require.Nil(t, Plan(ledger.Invoice{}))
}

func TestEnsureRemindersIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)

	created, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 6, created)

	created, err = f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	require.Zero(t, created)

	draft, err := f.billing.CreateInvoice(ctx, billing.CreateInvoiceInput{
		ProjectID: 1, ClientID: 7,
		Lines: []ledger.LineTemplate{{Description: "Draft", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)
	created, err = f.svc.EnsureReminders(ctx, draft.ID)
	require.NoError(t, err)
	require.Zero(t, created)
}

func TestSendReminderDeliversOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	due := f.reminder(t, inv.ID, ledger.ReminderDue)

	outcome, err := f.svc.SendReminder(ctx, due.ID, day(2026, 4, 14))
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Equal(t, ledger.ReminderSent, outcome.Reminder.Status)
	require.NotNil(t, outcome.Reminder.SentAt)

	require.Equal(t, 1, f.mailer.count())
	mail := f.mailer.sent[0]
	require.Equal(t, "billing@client.test", mail.to)
	require.Equal(t, "Invoice INV-000001 is due today", mail.subject)
	require.True(t, strings.Contains(mail.body, "Amount due: 1000.00 USD"), mail.body)
	require.True(t, strings.HasPrefix(mail.body, "Hello Dana,"))

	again, err := f.svc.SendReminder(ctx, due.ID, day(2026, 4, 15))
	require.NoError(t, err)
	require.False(t, again.Delivered)
	require.Equal(t, ledger.ReminderSent, again.Reminder.Status)
	require.Equal(t, 1, f.mailer.count())
}

func TestSendReminderBeforeScheduleIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	late := f.reminder(t, inv.ID, ledger.ReminderOverdue30)

	_, err = f.svc.SendReminder(ctx, late.ID, day(2026, 4, 20))
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Zero(t, f.mailer.count())
}

func TestSendReminderSkipsSettledInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)

	_, err := f.billing.RecordPayment(ctx, billing.RecordPaymentInput{
		InvoiceID: inv.ID, Amount: decimal.NewFromInt(1000), Method: "bank_transfer",
	})
	require.NoError(t, err)

	// a row left behind by a sweep that raced the payment
	err = f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.EnsureReminder(ctx, ledger.Reminder{
			InvoiceID: inv.ID, Type: ledger.ReminderOverdue3, ScheduledDate: day(2026, 4, 17), Status: ledger.ReminderPending,
		})
		return err
	})
	require.NoError(t, err)
	row := f.reminder(t, inv.ID, ledger.ReminderOverdue3)

	outcome, err := f.svc.SendReminder(ctx, row.ID, day(2026, 4, 17))
	require.NoError(t, err)
	require.False(t, outcome.Delivered)
	require.Equal(t, ledger.ReminderSkipped, outcome.Reminder.Status)
	require.Zero(t, f.mailer.count())
}

func TestSendReminderMarksFailedDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	f.mailer.err = errors.New("smtp: 421 service unavailable")
	due := f.reminder(t, inv.ID, ledger.ReminderDue)

	outcome, err := f.svc.SendReminder(ctx, due.ID, day(2026, 4, 14))
	require.NoError(t, err)
	require.False(t, outcome.Delivered)
	require.Equal(t, ledger.ReminderFailed, outcome.Reminder.Status)

	stored, err := f.store.GetReminder(ctx, due.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.ReminderFailed, stored.Status)
}

func TestSkipReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	row := f.reminder(t, inv.ID, ledger.ReminderUpcoming)

	skipped, err := f.svc.SkipReminder(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.ReminderSkipped, skipped.Status)

	_, err = f.svc.SkipReminder(ctx, row.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.SkipReminder(ctx, 9999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSweepSendsLatestDueStepOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	asOf := day(2026, 4, 24)

	result, err := f.svc.Sweep(ctx, asOf)
	require.NoError(t, err)
	require.Equal(t, 1, result.Invoices)
	require.Equal(t, 6, result.Created)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 3, result.Skipped)

	require.Equal(t, 1, f.mailer.count())
	require.Equal(t, "Invoice INV-000001 is 7 days overdue", f.mailer.sent[0].subject)
	require.Equal(t, ledger.ReminderSent, f.reminder(t, inv.ID, ledger.ReminderOverdue7).Status)
	require.Equal(t, ledger.ReminderSkipped, f.reminder(t, inv.ID, ledger.ReminderDue).Status)
	require.Equal(t, ledger.ReminderPending, f.reminder(t, inv.ID, ledger.ReminderOverdue14).Status)

	result, err = f.svc.Sweep(ctx, asOf)
	require.NoError(t, err)
	require.Zero(t, result.Sent)
	require.Zero(t, result.Created)
	require.Equal(t, 1, f.mailer.count())
}

func TestSkipStaleCountsOnlyRowsItRetires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)
	upcoming := f.reminder(t, inv.ID, ledger.ReminderUpcoming)
	due := f.reminder(t, inv.ID, ledger.ReminderDue)

	// another sweep got to the upcoming row first
	_, err = f.svc.SkipReminder(ctx, upcoming.ID)
	require.NoError(t, err)

	var result SweepResult
	var errs []error
	record := func(apply func(*SweepResult), err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		apply(&result)
	}
	f.svc.skipStale(ctx, []ledger.Reminder{upcoming, due}, record)

	require.Empty(t, errs)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, ledger.ReminderSkipped, f.reminder(t, inv.ID, ledger.ReminderDue).Status)
}

func TestListDueShowsPendingBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)

	rows, err := f.svc.ListDue(ctx, day(2026, 4, 17))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, ledger.ReminderUpcoming, rows[0].Type)

	_, err = f.svc.SkipReminder(ctx, rows[0].ID)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reminders/due?as_of=2026-04-17", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Reminders []ledger.Reminder `json:"reminders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Reminders, 2)
	require.Equal(t, ledger.ReminderDue, body.Reminders[0].Type)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reminders/due?as_of=17-04-2026", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepIgnoresPaidInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t)
	_, err := f.svc.EnsureReminders(ctx, inv.ID)
	require.NoError(t, err)

	_, err = f.billing.RecordPayment(ctx, billing.RecordPaymentInput{
		InvoiceID: inv.ID, Amount: decimal.NewFromInt(1000), Method: "card",
	})
	require.NoError(t, err)

	result, err := f.svc.Sweep(ctx, day(2026, 5, 20))
	require.NoError(t, err)
	require.Zero(t, result.Invoices)
	require.Zero(t, f.mailer.count())

	rows, err := f.store.ListReminders(ctx, inv.ID)
	require.NoError(t, err)
	for _, r := range rows {
		require.Equal(t, ledger.ReminderSkipped, r.Status)
	}
}

func TestComposeRequiresEmail(t *testing.T) {
	due := day(2026, 4, 14)
	inv := ledger.Invoice{ID: 1, ClientID: 7, Number: "INV-000009", Currency: "EUR", DueDate: &due}
	r := ledger.Reminder{Type: ledger.ReminderOverdue30, ScheduledDate: day(2026, 5, 14)}

	_, err := Compose(inv, r, Contact{Name: "Dana"}, decimal.NewFromInt(5))
	require.Error(t, err)

	msg, err := Compose(inv, r, Contact{Email: "a@b.test"}, decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	require.Equal(t, "Final notice: invoice INV-000009 is 30 days overdue", msg.Subject)
	require.Contains(t, msg.Body, "Hello there,")
	require.Contains(t, msg.Body, "Amount due: 12.50 EUR")

	_, err = Compose(inv, ledger.Reminder{Type: "weekly"}, Contact{Email: "a@b.test"}, decimal.Zero)
	require.Error(t, err)
}
