// Package scheduled fires one-shot invoices on a date or on milestone completion.
package scheduled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
)

// CreateInput describes a pending scheduled invoice.
type CreateInput struct {
	ProjectID         int64                 `json:"project_id" validate:"required,gt=0"`
	ClientID          int64                 `json:"client_id" validate:"required,gt=0"`
	Currency          string                `json:"currency" validate:"omitempty,len=3,alpha"`
	TriggerType       ledger.TriggerType    `json:"trigger_type" validate:"required,oneof=date milestone_complete"`
	ScheduledDate     *time.Time            `json:"scheduled_date"`
	MilestoneID       *int64                `json:"trigger_milestone_id" validate:"omitempty,gt=0"`
	InvoiceType       ledger.InvoiceType    `json:"invoice_type" validate:"omitempty,oneof=standard deposit"`
	DepositPercentage decimal.Decimal       `json:"deposit_percentage"`
	Lines             []ledger.LineTemplate `json:"line_items" validate:"required,min=1,dive"`
	PaymentTermsDays  int                   `json:"payment_terms_days" validate:"omitempty,min=0,max=365"`
	Notes             string                `json:"notes" validate:"max=2000"`
}

func (in CreateInput) validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	if err := ledger.ValidateLines(in.Lines); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	switch in.TriggerType {
	case ledger.TriggerDate:
		if in.ScheduledDate == nil {
			return fmt.Errorf("%w: scheduled_date required for date triggers", shared.ErrValidation)
		}
	case ledger.TriggerMilestoneComplete:
		if in.MilestoneID == nil {
			return fmt.Errorf("%w: trigger_milestone_id required for milestone triggers", shared.ErrValidation)
		}
	}
	if in.DepositPercentage.IsNegative() || in.DepositPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: deposit percentage must be between 0 and 100", shared.ErrValidation)
	}
	return nil
}

// FireResult summarises a sweep or milestone notification.
type FireResult struct {
	Generated []ledger.Invoice `json:"generated"`
	Skipped   int              `json:"skipped"`
}

// CacheInvalidator drops cached read models after generation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service manages scheduled invoices.
type Service struct {
	store   ledger.Store
	billing billing.Config
	logger  *slog.Logger
	cache   CacheInvalidator
	now     func() time.Time
}

// NewService constructs the scheduled-invoice trigger.
func NewService(store ledger.Store, cfg billing.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		billing: cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetCache wires read-model invalidation.
func (s *Service) SetCache(c CacheInvalidator) { s.cache = c }

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Subscribe binds milestone completion events on bus to OnMilestoneCompleted.
func (s *Service) Subscribe(bus *workflow.Bus) {
	bus.Subscribe(workflow.EventMilestoneCompleted, func(ctx context.Context, payload map[string]any) error {
		id, err := workflow.MilestoneID(payload)
		if err != nil {
			return err
		}
		_, err = s.OnMilestoneCompleted(ctx, id, s.now())
		return err
	})
}

// Create stores a pending schedule.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.ScheduledInvoice, error) {
	if err := input.validate(); err != nil {
		return ledger.ScheduledInvoice{}, err
	}
	typ := input.InvoiceType
	if typ == "" {
		typ = ledger.TypeStandard
	}
	sched := ledger.ScheduledInvoice{
		ProjectID:         input.ProjectID,
		ClientID:          input.ClientID,
		Currency:          strings.ToUpper(input.Currency),
		TriggerType:       input.TriggerType,
		InvoiceType:       typ,
		DepositPercentage: input.DepositPercentage,
		Lines:             input.Lines,
		PaymentTermsDays:  input.PaymentTermsDays,
		Notes:             input.Notes,
		Status:            ledger.SchedulePending,
	}
	if input.TriggerType == ledger.TriggerDate {
		d := ledger.DateOnly(*input.ScheduledDate)
		sched.ScheduledDate = &d
	} else {
		id := *input.MilestoneID
		sched.MilestoneID = &id
	}

	var created ledger.ScheduledInvoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		sc, err := tx.InsertScheduled(ctx, sched)
		created = sc
		return err
	})
	if err != nil {
		return ledger.ScheduledInvoice{}, err
	}
	return created, nil
}

// Cancel retires a pending schedule.
func (s *Service) Cancel(ctx context.Context, id int64) (ledger.ScheduledInvoice, error) {
	var updated ledger.ScheduledInvoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		sc, err := tx.LockScheduled(ctx, id)
		if err != nil {
			return err
		}
		if sc.Status != ledger.SchedulePending {
			return fmt.Errorf("scheduled: invoice schedule %d is %s: %w", sc.ID, sc.Status, shared.ErrInvalidState)
		}
		sc.Status = ledger.ScheduleCancelled
		if err := tx.UpdateScheduled(ctx, sc); err != nil {
			return err
		}
		updated = sc
		return nil
	})
	return updated, err
}

// Get loads a schedule.
func (s *Service) Get(ctx context.Context, id int64) (ledger.ScheduledInvoice, error) {
	return s.store.GetScheduled(ctx, id)
}

// Fire materialises the invoice of a pending date schedule whose date is on
// or before asOf. A schedule that is already generated or cancelled yields a
// nil invoice and no error. Milestone schedules only fire through
// OnMilestoneCompleted.
func (s *Service) Fire(ctx context.Context, id int64, asOf time.Time) (*ledger.Invoice, error) {
	return s.fire(ctx, id, asOf, 0)
}

// triggerMet reports whether sc may fire at asOf. completed is the milestone
// just reported complete, zero when none was.
func triggerMet(sc ledger.ScheduledInvoice, asOf time.Time, completed int64) bool {
	switch sc.TriggerType {
	case ledger.TriggerDate:
		return sc.ScheduledDate != nil && !ledger.DateOnly(*sc.ScheduledDate).After(ledger.DateOnly(asOf))
	case ledger.TriggerMilestoneComplete:
		return completed > 0 && sc.MilestoneID != nil && *sc.MilestoneID == completed
	}
	return false
}

func (s *Service) fire(ctx context.Context, id int64, asOf time.Time, completed int64) (*ledger.Invoice, error) {
	var generated *ledger.Invoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		generated = nil
		sc, err := tx.LockScheduled(ctx, id)
		if err != nil {
			return err
		}
		if sc.Status != ledger.SchedulePending {
			return nil
		}
		if !triggerMet(sc, asOf, completed) {
			return fmt.Errorf("scheduled: invoice schedule %d (%s) has not triggered as of %s: %w",
				sc.ID, sc.TriggerType, asOf.Format("2006-01-02"), shared.ErrInvalidState)
		}
		in := billing.NewInvoiceFromTemplate(s.billing, sc.ProjectID, sc.ClientID, sc.Currency, sc.InvoiceType, sc.DepositPercentage, sc.Lines)
		in.Notes = sc.Notes
		billing.IssueAt(&in, asOf, s.termsDays(sc.PaymentTermsDays))
		inv, err := tx.InsertInvoice(ctx, in)
		if err != nil {
			return err
		}
		sc.Status = ledger.ScheduleGenerated
		sc.GeneratedInvoiceID = &inv.ID
		if err := tx.UpdateScheduled(ctx, sc); err != nil {
			return err
		}
		generated = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if generated != nil {
		s.logger.Info("scheduled invoice generated",
			slog.Int64("schedule_id", id),
			slog.Int64("invoice_id", generated.ID),
			slog.String("invoice_number", generated.Number),
		)
	}
	return generated, nil
}

// FireDue fires every pending date trigger on or before asOf.
func (s *Service) FireDue(ctx context.Context, asOf time.Time) (FireResult, error) {
	due, err := s.store.ListDueScheduled(ctx, asOf)
	if err != nil {
		return FireResult{}, err
	}
	return s.fireAll(ctx, due, asOf, 0)
}

// OnMilestoneCompleted fires every pending schedule bound to milestoneID.
func (s *Service) OnMilestoneCompleted(ctx context.Context, milestoneID int64, asOf time.Time) (FireResult, error) {
	if milestoneID <= 0 {
		return FireResult{}, fmt.Errorf("%w: milestone id must be positive", shared.ErrValidation)
	}
	bound, err := s.store.ListScheduledForMilestone(ctx, milestoneID)
	if err != nil {
		return FireResult{}, err
	}
	s.logger.Info("milestone completed", slog.Int64("milestone_id", milestoneID), slog.Int("schedules", len(bound)))
	return s.fireAll(ctx, bound, asOf, milestoneID)
}

func (s *Service) fireAll(ctx context.Context, pending []ledger.ScheduledInvoice, asOf time.Time, completed int64) (FireResult, error) {
	var result FireResult
	var errs []error
	for _, sc := range pending {
		inv, err := s.fire(ctx, sc.ID, asOf, completed)
		switch {
		case err != nil:
			s.logger.Error("scheduled invoice failed", slog.Int64("schedule_id", sc.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("schedule %d: %w", sc.ID, err))
		case inv == nil:
			result.Skipped++
		default:
			result.Generated = append(result.Generated, *inv)
		}
	}
	if len(result.Generated) > 0 && s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("cache invalidation failed", slog.Any("error", err))
		}
	}
	return result, errors.Join(errs...)
}

func (s *Service) termsDays(days int) int {
	if days > 0 {
		return days
	}
	if s.billing.PaymentTermsDays > 0 {
		return s.billing.PaymentTermsDays
	}
	return 30
}
