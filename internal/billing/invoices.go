package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

// CreateInvoiceInput describes a new draft invoice.
type CreateInvoiceInput struct {
	ProjectID         int64                 `json:"project_id" validate:"required,gt=0"`
	ClientID          int64                 `json:"client_id" validate:"required,gt=0"`
	Currency          string                `json:"currency" validate:"omitempty,len=3,alpha"`
	Type              ledger.InvoiceType    `json:"invoice_type" validate:"omitempty,oneof=standard deposit"`
	DepositPercentage decimal.Decimal       `json:"deposit_percentage"`
	DueDate           *time.Time            `json:"due_date"`
	Notes             string                `json:"notes" validate:"max=2000"`
	Terms             string                `json:"terms" validate:"max=2000"`
	LateFeeRate       decimal.Decimal       `json:"late_fee_rate"`
	LateFeeType       ledger.LateFeeType    `json:"late_fee_type" validate:"omitempty,oneof=flat percentage"`
	Lines             []ledger.LineTemplate `json:"line_items" validate:"required,min=1,dive"`
}

func (in CreateInvoiceInput) validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	if err := ledger.ValidateLines(in.Lines); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if in.DepositPercentage.IsNegative() || in.DepositPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: deposit percentage must be between 0 and 100", shared.ErrValidation)
	}
	if in.Type != ledger.TypeDeposit && !in.DepositPercentage.IsZero() {
		return fmt.Errorf("%w: deposit percentage only applies to deposit invoices", shared.ErrValidation)
	}
	if in.LateFeeRate.IsNegative() {
		return fmt.Errorf("%w: late fee rate must not be negative", shared.ErrValidation)
	}
	if in.LateFeeRate.IsPositive() && in.LateFeeType == "" {
		return fmt.Errorf("%w: late fee type required with a late fee rate", shared.ErrValidation)
	}
	return nil
}

// NewInvoiceFromTemplate prepares a priced invoice insert shared by generators.
func NewInvoiceFromTemplate(cfg Config, projectID, clientID int64, currency string, typ ledger.InvoiceType, depositPct decimal.Decimal, lines []ledger.LineTemplate) ledger.NewInvoice {
	cfg = cfg.withDefaults()
	if currency == "" {
		currency = cfg.DefaultCurrency
	}
	if typ == "" {
		typ = ledger.TypeStandard
	}
	in := ledger.NewInvoice{
		Prefix:            cfg.NumberPrefix,
		ProjectID:         projectID,
		ClientID:          clientID,
		Currency:          strings.ToUpper(currency),
		Type:              typ,
		DepositPercentage: depositPct,
		Status:            ledger.StatusDraft,
	}
	in.Price(lines)
	return in
}

// IssueAt stamps issue and due dates for an invoice that starts in sent.
func IssueAt(in *ledger.NewInvoice, issued time.Time, termsDays int) {
	day := ledger.DateOnly(issued)
	due := day.AddDate(0, 0, termsDays)
	in.Status = ledger.StatusSent
	in.IssuedDate = &day
	in.DueDate = &due
}

// CreateInvoice persists a draft invoice with computed totals.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (ledger.Invoice, error) {
	if err := input.validate(); err != nil {
		return ledger.Invoice{}, err
	}
	in := NewInvoiceFromTemplate(s.cfg, input.ProjectID, input.ClientID, input.Currency, input.Type, input.DepositPercentage, input.Lines)
	in.DueDate = input.DueDate
	in.Notes = input.Notes
	in.Terms = input.Terms
	in.LateFeeRate = input.LateFeeRate
	in.LateFeeType = input.LateFeeType

	var created ledger.Invoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.InsertInvoice(ctx, in)
		if err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	s.recordAudit(ctx, "invoice.created", created.ID, map[string]any{"number": created.Number, "amount_total": created.AmountTotal.String()})
	return created, nil
}

// ReplaceLines reprices a draft invoice. Totals are frozen once the invoice leaves draft.
func (s *Service) ReplaceLines(ctx context.Context, invoiceID int64, lines []ledger.LineTemplate) (ledger.Invoice, error) {
	if err := ledger.ValidateLines(lines); err != nil {
		return ledger.Invoice{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	var updated ledger.Invoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != ledger.StatusDraft {
			return fmt.Errorf("billing: invoice %s is %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}
		items, totals := ledger.PriceLines(inv.Type, inv.DepositPercentage, inv.Currency, lines)
		credited, err := tx.SumCreditsForInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		if totals.AmountTotal.LessThan(credited) {
			return fmt.Errorf("billing: new total %s is below credits %s on invoice %s: %w",
				totals.AmountTotal.StringFixed(2), credited.StringFixed(2), inv.Number, shared.ErrInvalidState)
		}
		if err := tx.ReplaceLines(ctx, inv.ID, items, totals); err != nil {
			return err
		}
		updated, err = tx.LockInvoice(ctx, inv.ID)
		return err
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	return updated, nil
}

// SendInvoice issues a draft: draft → sent.
func (s *Service) SendInvoice(ctx context.Context, invoiceID int64) (ledger.Invoice, error) {
	return s.transition(ctx, invoiceID, "invoice.sent", func(inv *ledger.Invoice) error {
		if inv.Status != ledger.StatusDraft {
			return fmt.Errorf("billing: cannot send invoice %s in %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}
		if !inv.AmountTotal.IsPositive() {
			return fmt.Errorf("billing: invoice %s has no billable amount: %w", inv.Number, shared.ErrValidation)
		}
		today := ledger.DateOnly(s.now())
		inv.Status = ledger.StatusSent
		inv.IssuedDate = &today
		if inv.DueDate == nil {
			due := today.AddDate(0, 0, s.cfg.PaymentTermsDays)
			inv.DueDate = &due
		}
		return nil
	})
}

// MarkViewed records that the client opened the invoice: sent → viewed.
// Other open states are left untouched.
func (s *Service) MarkViewed(ctx context.Context, invoiceID int64) (ledger.Invoice, error) {
	return s.transition(ctx, invoiceID, "invoice.viewed", func(inv *ledger.Invoice) error {
		switch inv.Status {
		case ledger.StatusSent:
			inv.Status = ledger.StatusViewed
		case ledger.StatusViewed, ledger.StatusPartial, ledger.StatusPaid, ledger.StatusOverdue:
		default:
			return fmt.Errorf("billing: invoice %s is %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}
		return nil
	})
}

// CancelInvoice cancels any non-paid invoice and retires its pending reminders.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID int64) (ledger.Invoice, error) {
	return s.transition(ctx, invoiceID, "invoice.cancelled", func(inv *ledger.Invoice) error {
		if !ledger.CanTransition(inv.Status, ledger.StatusCancelled) {
			return fmt.Errorf("billing: cannot cancel invoice %s in %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}
		inv.Status = ledger.StatusCancelled
		return nil
	})
}

func (s *Service) transition(ctx context.Context, invoiceID int64, action string, mutate func(*ledger.Invoice) error) (ledger.Invoice, error) {
	var updated ledger.Invoice
	var from ledger.InvoiceStatus
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		from = inv.Status
		if err := mutate(&inv); err != nil {
			return err
		}
		if inv.Status == from {
			updated = inv
			return nil
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if inv.Status == ledger.StatusCancelled {
			if _, err := tx.SkipPendingReminders(ctx, inv.ID); err != nil {
				return err
			}
		}
		updated = inv
		return nil
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	if updated.Status != from {
		s.recordAudit(ctx, action, updated.ID, map[string]any{"from": string(from), "to": string(updated.Status)})
		s.invalidate(ctx)
	}
	return updated, nil
}

// InvoiceView is an invoice with its derived display fields.
type InvoiceView struct {
	ledger.Invoice
	EffectiveStatus      ledger.InvoiceStatus `json:"effective_status"`
	Credited             decimal.Decimal      `json:"credited"`
	EffectiveOutstanding decimal.Decimal      `json:"effective_outstanding"`
	Payments             []ledger.Payment     `json:"payments,omitempty"`
}

// GetInvoice returns the invoice with derived status, credits and payment history.
func (s *Service) GetInvoice(ctx context.Context, invoiceID int64) (InvoiceView, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return InvoiceView{}, err
	}
	credits, err := s.store.ListCreditsForInvoice(ctx, invoiceID)
	if err != nil {
		return InvoiceView{}, err
	}
	payments, err := s.store.ListPayments(ctx, invoiceID)
	if err != nil {
		return InvoiceView{}, err
	}
	credited := sumCredits(credits)
	return InvoiceView{
		Invoice:              inv,
		EffectiveStatus:      inv.EffectiveStatus(s.now()),
		Credited:             credited,
		EffectiveOutstanding: inv.Outstanding().Sub(credited),
		Payments:             payments,
	}, nil
}

// ListInvoices lists invoices; a status filter matches the effective status today.
func (s *Service) ListInvoices(ctx context.Context, filter ledger.InvoiceFilter) ([]InvoiceView, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	if filter.AsOf.IsZero() {
		filter.AsOf = s.now()
	}
	invoices, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		credits, err := s.store.ListCreditsForInvoice(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		credited := sumCredits(credits)
		out = append(out, InvoiceView{
			Invoice:              inv,
			EffectiveStatus:      inv.EffectiveStatus(filter.AsOf),
			Credited:             credited,
			EffectiveOutstanding: inv.Outstanding().Sub(credited),
		})
	}
	return out, nil
}

func sumCredits(credits []ledger.Credit) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range credits {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// AuditTrail lists recorded mutations of an invoice, newest first.
func (s *Service) AuditTrail(ctx context.Context, invoiceID int64) ([]shared.AuditLog, error) {
	if _, err := s.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []shared.AuditLog{}, nil
	}
	return s.audit.Trail(ctx, "invoice", invoiceID, 100)
}
