package recurring

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
)

// CreateInput describes a new recurring pattern.
type CreateInput struct {
	ProjectID        int64                 `json:"project_id" validate:"required,gt=0"`
	ClientID         int64                 `json:"client_id" validate:"required,gt=0"`
	Currency         string                `json:"currency" validate:"omitempty,len=3,alpha"`
	Frequency        ledger.Frequency      `json:"frequency" validate:"required,oneof=weekly monthly quarterly"`
	DayOfMonth       int                   `json:"day_of_month" validate:"omitempty,min=1,max=31"`
	DayOfWeek        *time.Weekday         `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	Lines            []ledger.LineTemplate `json:"line_items" validate:"required,min=1,dive"`
	PaymentTermsDays int                   `json:"payment_terms_days" validate:"omitempty,min=0,max=365"`
	Notes            string                `json:"notes" validate:"max=2000"`
	Terms            string                `json:"terms" validate:"max=2000"`
	StartDate        time.Time             `json:"start_date" validate:"required"`
	EndDate          *time.Time            `json:"end_date"`
}

// GenerateResult summarises a sweep.
type GenerateResult struct {
	Generated   []ledger.Invoice `json:"generated"`
	Deactivated int              `json:"deactivated"`
	Skipped     int              `json:"skipped"`
}

// CacheInvalidator drops cached read models after generation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service manages recurring patterns and their generation sweep.
type Service struct {
	store   ledger.Store
	billing billing.Config
	policy  CatchUp
	logger  *slog.Logger
	cache   CacheInvalidator
	now     func() time.Time
}

// NewService constructs the recurrence scheduler.
func NewService(store ledger.Store, cfg billing.Config, policy CatchUp, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if !policy.Valid() {
		policy = CatchUpSkip
	}
	return &Service{
		store:   store,
		billing: cfg,
		policy:  policy,
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

// Create stores an active pattern whose first run is the first anchor on or after StartDate.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.RecurringInvoice, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return ledger.RecurringInvoice{}, err
	}
	if err := ledger.ValidateLines(input.Lines); err != nil {
		return ledger.RecurringInvoice{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	pattern := ledger.RecurringInvoice{
		ProjectID:        input.ProjectID,
		ClientID:         input.ClientID,
		Currency:         strings.ToUpper(input.Currency),
		Frequency:        input.Frequency,
		Lines:            input.Lines,
		PaymentTermsDays: input.PaymentTermsDays,
		Notes:            input.Notes,
		Terms:            input.Terms,
		StartDate:        ledger.DateOnly(input.StartDate),
		IsActive:         true,
	}
	switch input.Frequency {
	case ledger.FrequencyWeekly:
		if input.DayOfWeek == nil {
			return ledger.RecurringInvoice{}, fmt.Errorf("%w: day_of_week required for weekly patterns", shared.ErrValidation)
		}
		pattern.DayOfWeek = *input.DayOfWeek
	default:
		if input.DayOfMonth == 0 {
			return ledger.RecurringInvoice{}, fmt.Errorf("%w: day_of_month required for %s patterns", shared.ErrValidation, input.Frequency)
		}
		pattern.DayOfMonth = input.DayOfMonth
	}
	if input.EndDate != nil {
		end := ledger.DateOnly(*input.EndDate)
		if end.Before(pattern.StartDate) {
			return ledger.RecurringInvoice{}, fmt.Errorf("%w: end_date before start_date", shared.ErrValidation)
		}
		pattern.EndDate = &end
	}
	pattern.NextGenerationDate = FirstGenerationDate(pattern, pattern.StartDate)

	var created ledger.RecurringInvoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.InsertRecurring(ctx, pattern)
		created = r
		return err
	})
	if err != nil {
		return ledger.RecurringInvoice{}, err
	}
	s.logger.Info("recurring invoice created",
		slog.Int64("recurring_id", created.ID),
		slog.String("frequency", string(created.Frequency)),
		slog.String("next_generation_date", created.NextGenerationDate.Format(time.DateOnly)),
	)
	return created, nil
}

// Pause deactivates a pattern.
func (s *Service) Pause(ctx context.Context, id int64) (ledger.RecurringInvoice, error) {
	return s.setActive(ctx, id, false)
}

// Resume reactivates a pattern. A next date already in the past is moved
// forward so resuming never floods.
func (s *Service) Resume(ctx context.Context, id int64) (ledger.RecurringInvoice, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) (ledger.RecurringInvoice, error) {
	var updated ledger.RecurringInvoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockRecurring(ctx, id)
		if err != nil {
			return err
		}
		if active {
			today := ledger.DateOnly(s.now())
			if r.EndDate != nil && r.EndDate.Before(today) {
				return fmt.Errorf("recurring: pattern %d ended on %s: %w", r.ID, r.EndDate.Format(time.DateOnly), shared.ErrInvalidState)
			}
			for r.NextGenerationDate.Before(today) {
				r.NextGenerationDate = NextGenerationDate(r, r.NextGenerationDate)
			}
		}
		r.IsActive = active
		if err := tx.UpdateRecurring(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	return updated, err
}

// Get loads a pattern.
func (s *Service) Get(ctx context.Context, id int64) (ledger.RecurringInvoice, error) {
	return s.store.GetRecurring(ctx, id)
}

// List returns patterns, optionally active ones only.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]ledger.RecurringInvoice, error) {
	return s.store.ListRecurring(ctx, activeOnly)
}

// GenerateDue materialises at most one invoice per due pattern. Each pattern
// is claimed in its own transaction: the row is locked, due-ness re-checked,
// and the invoice inserted together with the advanced next date, so
// concurrent sweeps cannot fire the same period twice.
func (s *Service) GenerateDue(ctx context.Context, asOf time.Time) (GenerateResult, error) {
	var result GenerateResult
	expired, err := s.deactivateExpired(ctx, asOf)
	if err != nil {
		return result, err
	}
	result.Deactivated += expired

	due, err := s.store.ListDueRecurring(ctx, asOf)
	if err != nil {
		return result, err
	}
	var errs []error
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		inv, deactivated, err := s.generateOne(ctx, p.ID, asOf)
		switch {
		case err != nil:
			s.logger.Error("recurring generation failed", slog.Int64("recurring_id", p.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("recurring %d: %w", p.ID, err))
		case inv == nil:
			result.Skipped++
		default:
			result.Generated = append(result.Generated, *inv)
		}
		if deactivated {
			result.Deactivated++
		}
	}
	if len(result.Generated) > 0 && s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("cache invalidation failed", slog.Any("error", err))
		}
	}
	s.logger.Info("recurring sweep finished",
		slog.String("as_of", asOf.Format(time.DateOnly)),
		slog.Int("generated", len(result.Generated)),
		slog.Int("deactivated", result.Deactivated),
		slog.Int("skipped", result.Skipped),
	)
	return result, errors.Join(errs...)
}

func (s *Service) generateOne(ctx context.Context, id int64, asOf time.Time) (*ledger.Invoice, bool, error) {
	day := ledger.DateOnly(asOf)
	var generated *ledger.Invoice
	deactivated := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		generated, deactivated = nil, false
		p, err := tx.LockRecurring(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return nil
		}
		if p.EndDate != nil && p.EndDate.Before(day) {
			p.IsActive = false
			deactivated = true
			return tx.UpdateRecurring(ctx, p)
		}
		if p.NextGenerationDate.After(day) {
			return nil
		}

		in := billing.NewInvoiceFromTemplate(s.billing, p.ProjectID, p.ClientID, p.Currency, ledger.TypeStandard, decimal.Zero, p.Lines)
		in.Notes = p.Notes
		in.Terms = p.Terms
		billing.IssueAt(&in, day, s.termsDays(p.PaymentTermsDays))
		inv, err := tx.InsertInvoice(ctx, in)
		if err != nil {
			return err
		}

		stamped := asOf.UTC()
		p.LastGeneratedAt = &stamped
		p.NextGenerationDate = Advance(p, asOf, s.policy)
		if p.EndDate != nil && p.NextGenerationDate.After(*p.EndDate) {
			p.IsActive = false
			deactivated = true
		}
		if err := tx.UpdateRecurring(ctx, p); err != nil {
			return err
		}
		generated = &inv
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if generated != nil {
		s.logger.Info("recurring invoice generated",
			slog.Int64("recurring_id", id),
			slog.Int64("invoice_id", generated.ID),
			slog.String("invoice_number", generated.Number),
		)
	}
	return generated, deactivated, nil
}

func (s *Service) deactivateExpired(ctx context.Context, asOf time.Time) (int, error) {
	active, err := s.store.ListRecurring(ctx, true)
	if err != nil {
		return 0, err
	}
	day := ledger.DateOnly(asOf)
	count := 0
	for _, p := range active {
		if p.EndDate == nil || !p.EndDate.Before(day) {
			continue
		}
		_, deactivated, err := s.generateOne(ctx, p.ID, asOf)
		if err != nil {
			return count, err
		}
		if deactivated {
			count++
		}
	}
	return count, nil
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
