package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
)

// ApplyCreditInput draws part of a paid deposit onto a final invoice.
type ApplyCreditInput struct {
	DepositInvoiceID int64           `json:"deposit_invoice_id" validate:"required,gt=0"`
	TargetInvoiceID  int64           `json:"target_invoice_id" validate:"required,gt=0"`
	Amount           decimal.Decimal `json:"amount"`
	AppliedBy        string          `json:"applied_by" validate:"max=100"`
}

// CreditResult reports the created credit and the remaining deposit balance.
type CreditResult struct {
	Credit            ledger.Credit   `json:"credit"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	TargetOutstanding decimal.Decimal `json:"target_outstanding"`
}

// ApplyCredit links amount from a deposit invoice to a target invoice. The
// target's AmountPaid is never touched; credits only reduce its effective
// outstanding balance.
func (s *Service) ApplyCredit(ctx context.Context, input ApplyCreditInput) (CreditResult, error) {
	if !input.Amount.IsPositive() {
		return CreditResult{}, fmt.Errorf("%w: credit amount must be greater than zero", shared.ErrValidation)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return CreditResult{}, err
	}
	if input.DepositInvoiceID == input.TargetInvoiceID {
		return CreditResult{}, fmt.Errorf("%w: deposit and target invoice must differ", shared.ErrValidation)
	}
	if input.AppliedBy == "" {
		input.AppliedBy = actorFromContext(ctx)
	}

	var result CreditResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		deposit, target, err := lockPair(ctx, tx, input.DepositInvoiceID, input.TargetInvoiceID)
		if err != nil {
			return err
		}
		if deposit.Type != ledger.TypeDeposit {
			return fmt.Errorf("billing: invoice %s is not a deposit: %w", deposit.Number, shared.ErrInvalidState)
		}
		if target.Type == ledger.TypeDeposit {
			return fmt.Errorf("billing: cannot credit deposit invoice %s: %w", target.Number, shared.ErrInvalidState)
		}
		// Drafts can still be repriced, so credits wait until the total is fixed.
		if target.Status == ledger.StatusDraft || target.Status == ledger.StatusCancelled || target.Status == ledger.StatusPaid {
			return fmt.Errorf("billing: target invoice %s is %s: %w", target.Number, target.Status, shared.ErrInvalidState)
		}
		if deposit.ProjectID != target.ProjectID {
			return fmt.Errorf("billing: deposit %s and invoice %s belong to different projects: %w", deposit.Number, target.Number, shared.ErrInvalidState)
		}
		if deposit.Currency != target.Currency {
			return fmt.Errorf("billing: deposit %s is in %s, invoice %s in %s: %w", deposit.Number, deposit.Currency, target.Number, target.Currency, shared.ErrInvalidState)
		}

		drawn, err := tx.SumCreditsFromDeposit(ctx, deposit.ID)
		if err != nil {
			return err
		}
		available := deposit.AmountPaid.Sub(drawn)
		if input.Amount.GreaterThan(available) {
			return fmt.Errorf("billing: credit %s exceeds available deposit balance %s: %w",
				input.Amount.StringFixed(2), available.StringFixed(2), shared.ErrInvalidState)
		}

		credited, err := tx.SumCreditsForInvoice(ctx, target.ID)
		if err != nil {
			return err
		}
		targetOutstanding := target.Outstanding().Sub(credited)
		if input.Amount.GreaterThan(targetOutstanding) {
			return fmt.Errorf("billing: credit %s exceeds outstanding %s on invoice %s: %w",
				input.Amount.StringFixed(2), targetOutstanding.StringFixed(2), target.Number, shared.ErrValidation)
		}

		credit, err := tx.InsertCredit(ctx, ledger.Credit{
			InvoiceID:        target.ID,
			DepositInvoiceID: deposit.ID,
			Amount:           input.Amount,
			AppliedAt:        s.now(),
			AppliedBy:        input.AppliedBy,
		})
		if err != nil {
			return err
		}
		result = CreditResult{
			Credit:            credit,
			AvailableBalance:  available.Sub(input.Amount),
			TargetOutstanding: targetOutstanding.Sub(input.Amount),
		}
		return nil
	})
	if err != nil {
		return CreditResult{}, err
	}

	s.logger.Info("deposit credit applied",
		slog.Int64("deposit_invoice_id", input.DepositInvoiceID),
		slog.Int64("target_invoice_id", input.TargetInvoiceID),
		slog.String("amount", input.Amount.StringFixed(2)),
	)
	s.recordAudit(ctx, "invoice.credit_applied", input.TargetInvoiceID, map[string]any{
		"deposit_invoice_id": input.DepositInvoiceID,
		"amount":             input.Amount.String(),
	})
	s.invalidate(ctx)
	return result, nil
}

// lockPair locks both invoices in ascending id order so concurrent credits cannot deadlock.
func lockPair(ctx context.Context, tx ledger.Tx, depositID, targetID int64) (ledger.Invoice, ledger.Invoice, error) {
	first, second := depositID, targetID
	if second < first {
		first, second = second, first
	}
	a, err := tx.LockInvoice(ctx, first)
	if err != nil {
		return ledger.Invoice{}, ledger.Invoice{}, err
	}
	b, err := tx.LockInvoice(ctx, second)
	if err != nil {
		return ledger.Invoice{}, ledger.Invoice{}, err
	}
	if a.ID == depositID {
		return a, b, nil
	}
	return b, a, nil
}

// AvailableDepositBalance returns the deposit's paid amount minus credits already drawn.
func (s *Service) AvailableDepositBalance(ctx context.Context, depositInvoiceID int64) (decimal.Decimal, error) {
	deposit, err := s.store.GetInvoice(ctx, depositInvoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	if deposit.Type != ledger.TypeDeposit {
		return decimal.Zero, fmt.Errorf("billing: invoice %s is not a deposit: %w", deposit.Number, shared.ErrInvalidState)
	}
	credits, err := s.store.ListCreditsFromDeposit(ctx, depositInvoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return deposit.AmountPaid.Sub(sumCredits(credits)), nil
}

// EffectiveOutstanding returns AmountTotal − AmountPaid − credits targeting the invoice.
func (s *Service) EffectiveOutstanding(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	credits, err := s.store.ListCreditsForInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Outstanding().Sub(sumCredits(credits)), nil
}

// DepositPaid runs after a payment lands on a deposit invoice and publishes
// the balance now available for crediting.
func (s *Service) DepositPaid(ctx context.Context, deposit ledger.Invoice, payment ledger.Payment) {
	available, err := s.AvailableDepositBalance(ctx, deposit.ID)
	if err != nil {
		s.logger.Warn("deposit balance lookup failed", slog.Int64("invoice_id", deposit.ID), slog.Any("error", err))
		return
	}
	s.logger.Info("deposit balance available",
		slog.Int64("invoice_id", deposit.ID),
		slog.Int64("project_id", deposit.ProjectID),
		slog.String("available", available.StringFixed(2)),
	)
	s.emit(ctx, workflow.EventDepositAvailable, map[string]any{
		"invoice_id": deposit.ID,
		"project_id": deposit.ProjectID,
		"payment_id": payment.ID,
		"available":  available.StringFixed(2),
	})
}
