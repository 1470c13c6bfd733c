package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger/ledgertest"
	"github.com/nobhad/no-bhad-codes-sub015/internal/receipts"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
)

var testNow = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubReceipts struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubReceipts) CreateReceipt(ctx context.Context, invoiceID, paymentID int64, amount decimal.Decimal, meta map[string]string) (receipts.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return receipts.Receipt{}, s.err
	}
	return receipts.Receipt{ID: "rcpt-1", Number: "RCT-000001"}, nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) Trail(ctx context.Context, entity string, entityID int64, limit int) ([]shared.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.AuditLog
	for i := len(a.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if a.logs[i].Entity == entity && a.logs[i].EntityID == entityID {
			out = append(out, a.logs[i])
		}
	}
	return out, nil
}

type memoryIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type testEnv struct {
	svc      *Service
	store    *ledgertest.Store
	receipts *stubReceipts
	audit    *memoryAudit
	bus      *workflow.Bus
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := ledgertest.NewStore()
	svc := NewService(store, Config{}, nil)
	svc.WithNow(func() time.Time { return testNow })
	env := testEnv{
		svc:      svc,
		store:    store,
		receipts: &stubReceipts{},
		audit:    &memoryAudit{},
		bus:      workflow.NewBus(nil),
	}
	svc.SetReceipts(env.receipts)
	svc.SetAudit(env.audit)
	svc.SetIdempotency(&memoryIdem{keys: map[string]bool{}})
	svc.SetEvents(env.bus)
	return env
}

func (e testEnv) issue(t *testing.T, projectID int64, typ ledger.InvoiceType, amount string) ledger.Invoice {
	t.Helper()
	inv, err := e.svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		ProjectID: projectID,
		ClientID:  7,
		Type:      typ,
		Lines: []ledger.LineTemplate{
			{Description: "Engagement", Quantity: dec("1"), UnitPrice: dec(amount)},
		},
	})
	require.NoError(t, err)
	sent, err := e.svc.SendInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	return sent
}

func (e testEnv) addReminders(t *testing.T, invoiceID int64, types ...ledger.ReminderType) {
	t.Helper()
	err := e.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, typ := range types {
			if _, err := tx.EnsureReminder(ctx, ledger.Reminder{
				InvoiceID:     invoiceID,
				Type:          typ,
				ScheduledDate: testNow,
				Status:        ledger.ReminderPending,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCreateAndSendInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inv, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		ProjectID: 1,
		ClientID:  2,
		Lines: []ledger.LineTemplate{
			{Description: "Build", Quantity: dec("2"), UnitPrice: dec("100"), TaxRate: dec("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDraft, inv.Status)
	require.Equal(t, "INV-000001", inv.Number)
	require.Equal(t, "USD", inv.Currency)
	require.True(t, inv.AmountTotal.Equal(dec("220")))

	sent, err := env.svc.SendInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSent, sent.Status)
	require.NotNil(t, sent.IssuedDate)
	require.NotNil(t, sent.DueDate)
	require.Equal(t, ledger.DateOnly(testNow).AddDate(0, 0, 30), *sent.DueDate)

	_, err = env.svc.SendInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = env.svc.ReplaceLines(ctx, inv.ID, []ledger.LineTemplate{{Description: "x", Quantity: dec("1"), UnitPrice: dec("1")}})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateInvoice(context.Background(), CreateInvoiceInput{ProjectID: 1, ClientID: 2})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		ProjectID:         1,
		ClientID:          2,
		DepositPercentage: dec("30"),
		Lines:             []ledger.LineTemplate{{Description: "x", Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMarkViewedAndCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "100")
	env.addReminders(t, inv.ID, ledger.ReminderDue)

	viewed, err := env.svc.MarkViewed(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusViewed, viewed.Status)

	cancelled, err := env.svc.CancelInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCancelled, cancelled.Status)

	reminders, err := env.store.ListReminders(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	require.Equal(t, ledger.ReminderSkipped, reminders[0].Status)

	_, err = env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("10"), Method: "card"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRecordPaymentPartialThenPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "500.00")
	env.addReminders(t, inv.ID, ledger.ReminderUpcoming, ledger.ReminderDue)

	var paidEvents int
	env.bus.Subscribe(workflow.EventInvoicePaid, func(ctx context.Context, payload map[string]any) error {
		paidEvents++
		return nil
	})

	first, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("300.00"), Method: "bank_transfer"})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPartial, first.Invoice.Status)
	require.True(t, first.Invoice.AmountPaid.Equal(dec("300.00")))
	require.True(t, first.Invoice.Outstanding().Equal(dec("200.00")))
	require.False(t, first.BecamePaid)
	require.Equal(t, "RCT-000001", first.ReceiptNumber)

	second, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("200.00"), Method: "bank_transfer"})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPaid, second.Invoice.Status)
	require.True(t, second.BecamePaid)
	require.NotNil(t, second.Invoice.PaidDate)
	require.Equal(t, 1, paidEvents)

	reminders, err := env.store.ListReminders(ctx, inv.ID)
	require.NoError(t, err)
	for _, r := range reminders {
		require.Equal(t, ledger.ReminderSkipped, r.Status)
	}

	_, err = env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("1"), Method: "card"})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	payments, err := env.svc.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestRecordPaymentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "100")

	for _, amount := range []string{"0", "-5", "10.001"} {
		_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec(amount), Method: "card"})
		require.ErrorIs(t, err, shared.ErrValidation, amount)
	}
	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("100.01"), Method: "card"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: 999, Amount: dec("1"), Method: "card"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordPaymentIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "100")

	input := RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("40"), Method: "card", IdempotencyKey: "pay-1"}
	_, err := env.svc.RecordPayment(ctx, input)
	require.NoError(t, err)
	_, err = env.svc.RecordPayment(ctx, input)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	stored, err := env.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.AmountPaid.Equal(dec("40")))
}

func TestRecordPaymentSurvivesReceiptFailure(t *testing.T) {
	env := newTestEnv(t)
	env.receipts.err = errors.New("renderer offline")
	inv := env.issue(t, 1, ledger.TypeStandard, "100")

	result, err := env.svc.RecordPayment(context.Background(), RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("100"), Method: "card"})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPaid, result.Invoice.Status)
	require.Empty(t, result.ReceiptID)
	require.Equal(t, 1, env.receipts.calls)
}

func TestRecordPaymentLeavesNoPartialWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "100")

	env.store.FailOn("UpdateInvoice", errors.New("connection reset"))
	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("50"), Method: "card", IdempotencyKey: "k"})
	require.ErrorIs(t, err, shared.ErrStorage)

	payments, err := env.store.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Empty(t, payments)
	stored, err := env.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.AmountPaid.IsZero())
	require.Equal(t, ledger.StatusSent, stored.Status)

	_, err = env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("50"), Method: "card", IdempotencyKey: "k"})
	require.NoError(t, err)
}

func TestConcurrentPaymentsSettleExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "500.00")

	var wg sync.WaitGroup
	results := make([]PaymentResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("250.00"), Method: "card"})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	paidTransitions := 0
	for _, r := range results {
		if r.BecamePaid {
			paidTransitions++
		}
	}
	require.Equal(t, 1, paidTransitions)

	stored, err := env.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.AmountPaid.Equal(stored.AmountTotal))
	require.Equal(t, ledger.StatusPaid, stored.Status)
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.issue(t, 1, ledger.TypeStandard, "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("30.00"), Method: "card"})
		}()
	}
	wg.Wait()

	stored, err := env.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.AmountPaid.LessThanOrEqual(stored.AmountTotal))
	require.True(t, stored.AmountPaid.Equal(dec("90.00")))
	require.Equal(t, ledger.StatusPartial, stored.Status)
}

func TestDepositCreditExhaustion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deposit := env.issue(t, 3, ledger.TypeDeposit, "1000")
	final := env.issue(t, 3, ledger.TypeStandard, "4000")

	var available []any
	env.bus.Subscribe(workflow.EventDepositAvailable, func(ctx context.Context, payload map[string]any) error {
		available = append(available, payload["available"])
		return nil
	})

	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: deposit.ID, Amount: dec("1000"), Method: "bank_transfer"})
	require.NoError(t, err)
	require.Equal(t, []any{"1000.00"}, available)

	result, err := env.svc.ApplyCredit(ctx, ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: final.ID, Amount: dec("1000")})
	require.NoError(t, err)
	require.True(t, result.AvailableBalance.IsZero())
	require.True(t, result.TargetOutstanding.Equal(dec("3000")))
	require.Equal(t, "system", result.Credit.AppliedBy)

	_, err = env.svc.ApplyCredit(ctx, ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: final.ID, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	balance, err := env.svc.AvailableDepositBalance(ctx, deposit.ID)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	target, err := env.store.GetInvoice(ctx, final.ID)
	require.NoError(t, err)
	require.True(t, target.AmountPaid.IsZero())

	outstanding, err := env.svc.EffectiveOutstanding(ctx, final.ID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(dec("3000")))

	view, err := env.svc.GetInvoice(ctx, final.ID)
	require.NoError(t, err)
	require.True(t, view.Credited.Equal(dec("1000")))
}

func TestApplyCreditRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deposit := env.issue(t, 3, ledger.TypeDeposit, "500")
	standard := env.issue(t, 3, ledger.TypeStandard, "200")
	otherProject := env.issue(t, 4, ledger.TypeStandard, "200")
	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: deposit.ID, Amount: dec("500"), Method: "card"})
	require.NoError(t, err)

	cases := []struct {
		name  string
		input ApplyCreditInput
		want  error
	}{
		{"zero amount", ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: standard.ID}, shared.ErrValidation},
		{"same invoice", ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: deposit.ID, Amount: dec("1")}, shared.ErrValidation},
		{"source not deposit", ApplyCreditInput{DepositInvoiceID: standard.ID, TargetInvoiceID: otherProject.ID, Amount: dec("1")}, shared.ErrInvalidState},
		{"other project", ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: otherProject.ID, Amount: dec("1")}, shared.ErrInvalidState},
		{"exceeds target", ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: standard.ID, Amount: dec("250")}, shared.ErrValidation},
		{"missing target", ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: 999, Amount: dec("1")}, shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.ApplyCredit(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err = env.svc.CancelInvoice(ctx, standard.ID)
	require.NoError(t, err)
	_, err = env.svc.ApplyCredit(ctx, ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: standard.ID, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestApplyCreditRejectsDraftTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deposit := env.issue(t, 6, ledger.TypeDeposit, "1000")
	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: deposit.ID, Amount: dec("1000"), Method: "card"})
	require.NoError(t, err)

	draft, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		ProjectID: 6,
		ClientID:  7,
		Lines:     []ledger.LineTemplate{{Description: "Final", Quantity: dec("1"), UnitPrice: dec("1000")}},
	})
	require.NoError(t, err)

	_, err = env.svc.ApplyCredit(ctx, ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: draft.ID, Amount: dec("900")})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	repriced, err := env.svc.ReplaceLines(ctx, draft.ID, []ledger.LineTemplate{{Description: "Final", Quantity: dec("1"), UnitPrice: dec("100")}})
	require.NoError(t, err)
	require.True(t, repriced.AmountTotal.Equal(dec("100")))

	outstanding, err := env.svc.EffectiveOutstanding(ctx, draft.ID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(dec("100")), outstanding.String())

	_, err = env.svc.SendInvoice(ctx, draft.ID)
	require.NoError(t, err)
	result, err := env.svc.ApplyCredit(ctx, ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: draft.ID, Amount: dec("100")})
	require.NoError(t, err)
	require.True(t, result.TargetOutstanding.IsZero())
}

func TestReplaceLinesKeepsTotalAboveCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	draft, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		ProjectID: 6,
		ClientID:  7,
		Lines:     []ledger.LineTemplate{{Description: "Final", Quantity: dec("1"), UnitPrice: dec("1000")}},
	})
	require.NoError(t, err)
	err = env.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.InsertCredit(ctx, ledger.Credit{InvoiceID: draft.ID, DepositInvoiceID: 99, Amount: dec("900"), AppliedAt: testNow})
		return err
	})
	require.NoError(t, err)

	_, err = env.svc.ReplaceLines(ctx, draft.ID, []ledger.LineTemplate{{Description: "Final", Quantity: dec("1"), UnitPrice: dec("100")}})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = env.svc.ReplaceLines(ctx, draft.ID, []ledger.LineTemplate{{Description: "Final", Quantity: dec("1"), UnitPrice: dec("900")}})
	require.NoError(t, err)
}

func TestConcurrentCreditsNeverOverdrawDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deposit := env.issue(t, 5, ledger.TypeDeposit, "300")
	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: deposit.ID, Amount: dec("300"), Method: "card"})
	require.NoError(t, err)

	targets := make([]ledger.Invoice, 5)
	for i := range targets {
		targets[i] = env.issue(t, 5, ledger.TypeStandard, "1000")
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = env.svc.ApplyCredit(ctx, ApplyCreditInput{DepositInvoiceID: deposit.ID, TargetInvoiceID: id, Amount: dec("100")})
		}(target.ID)
	}
	wg.Wait()

	credits, err := env.store.ListCreditsFromDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	require.Len(t, credits, 3)
	balance, err := env.svc.AvailableDepositBalance(ctx, deposit.ID)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestApplyLateFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		ProjectID:   1,
		ClientID:    2,
		LateFeeRate: dec("5"),
		LateFeeType: ledger.LateFeePercentage,
		Lines:       []ledger.LineTemplate{{Description: "Retainer", Quantity: dec("1"), UnitPrice: dec("400")}},
	})
	require.NoError(t, err)
	_, err = env.svc.SendInvoice(ctx, inv.ID)
	require.NoError(t, err)

	_, err = env.svc.ApplyLateFee(ctx, inv.ID, testNow)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	late := testNow.AddDate(0, 0, 45)
	count, err := env.svc.ApplyDueLateFees(ctx, late)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stored, err := env.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.LateFeeAmount.Equal(dec("20")))
	require.NotNil(t, stored.LateFeeAppliedAt)
	require.True(t, stored.AmountTotal.Equal(dec("400")))

	count, err = env.svc.ApplyDueLateFees(ctx, late.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestListInvoicesByEffectiveStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, ledger.TypeStandard, "100")
	_, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		ProjectID: 1,
		ClientID:  7,
		Lines:     []ledger.LineTemplate{{Description: "Draft", Quantity: dec("1"), UnitPrice: dec("5")}},
	})
	require.NoError(t, err)

	overdue, err := env.svc.ListInvoices(ctx, ledger.InvoiceFilter{Status: ledger.StatusOverdue, AsOf: testNow.AddDate(0, 2, 0)})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, ledger.StatusOverdue, overdue[0].EffectiveStatus)

	_, err = env.svc.ListInvoices(ctx, ledger.InvoiceFilter{Status: "bogus"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAuditTrailListsInvoiceMutationsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := shared.ContextWithActor(context.Background(), "ops@studio.test")
	inv := env.issue(t, 1, ledger.TypeStandard, "400.00")
	_, err := env.svc.RecordPayment(ctx, RecordPaymentInput{InvoiceID: inv.ID, Amount: dec("100"), Method: "card"})
	require.NoError(t, err)

	trail, err := env.svc.AuditTrail(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, "invoice.payment_recorded", trail[0].Action)
	require.Equal(t, "ops@studio.test", trail[0].Actor)
	require.Equal(t, "invoice.created", trail[2].Action)
	require.Equal(t, "system", trail[2].Actor)

	_, err = env.svc.AuditTrail(context.Background(), 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
