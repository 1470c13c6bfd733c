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
)

// LateFee computes the fee owed on an overdue invoice. It is zero when no
// rate is configured.
func LateFee(inv ledger.Invoice) decimal.Decimal {
	if !inv.LateFeeRate.IsPositive() {
		return decimal.Zero
	}
	switch inv.LateFeeType {
	case ledger.LateFeeFlat:
		return ledger.RoundMoney(inv.LateFeeRate)
	case ledger.LateFeePercentage:
		return ledger.RoundMoney(inv.Outstanding().Mul(inv.LateFeeRate).Div(decimal.NewFromInt(100)))
	default:
		return decimal.Zero
	}
}

// ApplyLateFee stamps the late fee on an invoice that is overdue as of asOf.
// A fee is applied once; repeated calls return the invoice unchanged.
func (s *Service) ApplyLateFee(ctx context.Context, invoiceID int64, asOf time.Time) (ledger.Invoice, error) {
	var updated ledger.Invoice
	applied := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		updated = inv
		if inv.LateFeeAppliedAt != nil {
			return nil
		}
		if inv.EffectiveStatus(asOf) != ledger.StatusOverdue {
			return fmt.Errorf("billing: invoice %s is not overdue: %w", inv.Number, shared.ErrInvalidState)
		}
		fee := LateFee(inv)
		if fee.IsZero() {
			return nil
		}
		stamped := asOf.UTC()
		inv.LateFeeAmount = fee
		inv.LateFeeAppliedAt = &stamped
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		updated = inv
		applied = true
		return nil
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	if applied {
		s.logger.Info("late fee applied", slog.Int64("invoice_id", updated.ID), slog.String("fee", updated.LateFeeAmount.StringFixed(2)))
		s.recordAudit(ctx, "invoice.late_fee_applied", updated.ID, map[string]any{"fee": updated.LateFeeAmount.String()})
		s.invalidate(ctx)
	}
	return updated, nil
}

// ApplyDueLateFees applies late fees to every overdue invoice that carries a
// rate and has not been charged yet. It returns how many fees were stamped.
func (s *Service) ApplyDueLateFees(ctx context.Context, asOf time.Time) (int, error) {
	open, err := s.store.ListOpenInvoices(ctx, nil)
	if err != nil {
		return 0, err
	}
	count := 0
	var errs []error
	for _, inv := range open {
		if inv.LateFeeAppliedAt != nil || !inv.LateFeeRate.IsPositive() {
			continue
		}
		if inv.EffectiveStatus(asOf) != ledger.StatusOverdue {
			continue
		}
		updated, err := s.ApplyLateFee(ctx, inv.ID, asOf)
		if err != nil {
			if errors.Is(err, shared.ErrInvalidState) {
				continue
			}
			errs = append(errs, fmt.Errorf("invoice %d: %w", inv.ID, err))
			continue
		}
		if updated.LateFeeAppliedAt != nil {
			count++
		}
	}
	return count, errors.Join(errs...)
}
