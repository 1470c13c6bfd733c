package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
)

// RecordPaymentInput describes money received against an invoice.
type RecordPaymentInput struct {
	InvoiceID      int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"payment_method" validate:"required,max=50"`
	Reference      string          `json:"payment_reference" validate:"max=255"`
	Notes          string          `json:"notes" validate:"max=2000"`
	PaymentDate    time.Time       `json:"payment_date"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=128"`
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	Invoice       ledger.Invoice `json:"invoice"`
	Payment       ledger.Payment `json:"payment"`
	ReceiptID     string         `json:"receipt_id,omitempty"`
	ReceiptNumber string         `json:"receipt_number,omitempty"`
	BecamePaid    bool           `json:"became_paid"`
}

const idempotencyModule = "billing.payment"

// RecordPayment appends a payment, recomputes the paid amount and derives the
// new status in one transaction. Receipt, audit, cache and deposit side effects
// run after commit and never fail the call.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error) {
	if !input.Amount.IsPositive() {
		return PaymentResult{}, fmt.Errorf("%w: payment amount must be greater than zero", shared.ErrValidation)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return PaymentResult{}, err
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return PaymentResult{}, fmt.Errorf("%w: payment amount has more than two decimal places", shared.ErrValidation)
	}
	if input.PaymentDate.IsZero() {
		input.PaymentDate = s.now()
	}

	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PaymentResult{}, fmt.Errorf("billing: payment %q already recorded: %w", input.IdempotencyKey, shared.ErrInvalidState)
			}
			return PaymentResult{}, fmt.Errorf("billing: idempotency check: %w: %w", shared.ErrStorage, err)
		}
	}

	var result PaymentResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		result = PaymentResult{}
		inv, err := tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.AcceptsPayment() {
			return fmt.Errorf("billing: invoice %s is %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}
		outstanding := inv.Outstanding()
		if input.Amount.GreaterThan(outstanding) {
			return fmt.Errorf("billing: payment %s exceeds outstanding %s on invoice %s: %w",
				input.Amount.StringFixed(2), outstanding.StringFixed(2), inv.Number, shared.ErrValidation)
		}

		payment, err := tx.InsertPayment(ctx, ledger.Payment{
			InvoiceID:   inv.ID,
			Amount:      input.Amount,
			Method:      input.Method,
			Reference:   input.Reference,
			PaymentDate: input.PaymentDate,
			Notes:       input.Notes,
		})
		if err != nil {
			return err
		}

		inv.AmountPaid = inv.AmountPaid.Add(input.Amount)
		inv.Status = ledger.SettlementStatus(inv.AmountTotal, inv.AmountPaid)
		inv.PaymentMethod = input.Method
		inv.PaymentReference = input.Reference
		if inv.Status == ledger.StatusPaid {
			paidOn := ledger.DateOnly(input.PaymentDate)
			inv.PaidDate = &paidOn
			if _, err := tx.SkipPendingReminders(ctx, inv.ID); err != nil {
				return err
			}
			result.BecamePaid = true
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		result.Invoice = inv
		result.Payment = payment
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idem != nil {
			if delErr := s.idem.Delete(ctx, input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return PaymentResult{}, err
	}

	logger := s.logger.With(slog.Int64("invoice_id", result.Invoice.ID), slog.Int64("payment_id", result.Payment.ID))
	logger.Info("payment recorded",
		slog.String("amount", result.Payment.Amount.StringFixed(2)),
		slog.String("status", string(result.Invoice.Status)),
	)

	s.requestReceipt(ctx, logger, &result)
	s.recordAudit(ctx, "invoice.payment_recorded", result.Invoice.ID, map[string]any{
		"payment_id": result.Payment.ID,
		"amount":     result.Payment.Amount.String(),
		"status":     string(result.Invoice.Status),
	})
	s.invalidate(ctx)
	if result.BecamePaid {
		s.emit(ctx, workflow.EventInvoicePaid, map[string]any{
			"invoice_id": result.Invoice.ID,
			"project_id": result.Invoice.ProjectID,
			"client_id":  result.Invoice.ClientID,
		})
	}
	if result.Invoice.Type == ledger.TypeDeposit {
		s.DepositPaid(ctx, result.Invoice, result.Payment)
	}
	return result, nil
}

func (s *Service) requestReceipt(ctx context.Context, logger *slog.Logger, result *PaymentResult) {
	if s.receipts == nil {
		return
	}
	meta := map[string]string{
		"invoice_number": result.Invoice.Number,
		"currency":       result.Invoice.Currency,
		"payment_method": result.Payment.Method,
		"reference":      result.Payment.Reference,
		"payment_date":   result.Payment.PaymentDate.Format("2006-01-02"),
		"balance_due":    result.Invoice.Outstanding().StringFixed(2),
	}
	receipt, err := s.receipts.CreateReceipt(ctx, result.Invoice.ID, result.Payment.ID, result.Payment.Amount, meta)
	if err != nil {
		logger.Error("receipt generation failed", slog.Any("error", err))
		return
	}
	result.ReceiptID = receipt.ID
	result.ReceiptNumber = receipt.Number
}

// ListPayments returns the payment history of an invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]ledger.Payment, error) {
	if _, err := s.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, invoiceID)
}
