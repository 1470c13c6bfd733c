package recurring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger/ledgertest"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lines() []ledger.LineTemplate {
	return []ledger.LineTemplate{{Description: "Monthly retainer", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1500)}}
}

func TestNextGenerationDateClampsMonthEnd(t *testing.T) {
	p := ledger.RecurringInvoice{Frequency: ledger.FrequencyMonthly, DayOfMonth: 31}
	require.Equal(t, day(2026, 2, 28), NextGenerationDate(p, day(2026, 1, 31)))
	require.Equal(t, day(2026, 3, 31), NextGenerationDate(p, day(2026, 2, 28)))
	require.Equal(t, day(2028, 2, 29), NextGenerationDate(p, day(2028, 1, 31)))

	q := ledger.RecurringInvoice{Frequency: ledger.FrequencyQuarterly, DayOfMonth: 30}
	require.Equal(t, day(2026, 2, 28), NextGenerationDate(q, day(2025, 11, 30)))
	require.Equal(t, day(2027, 1, 30), NextGenerationDate(q, day(2026, 10, 30)))
}

func TestNextGenerationDateWeekly(t *testing.T) {
	p := ledger.RecurringInvoice{Frequency: ledger.FrequencyWeekly, DayOfWeek: time.Monday}
	// 2026-03-16 is a Monday.
	require.Equal(t, day(2026, 3, 23), NextGenerationDate(p, day(2026, 3, 16)))
	require.Equal(t, day(2026, 3, 16), NextGenerationDate(p, day(2026, 3, 13)))
}

func TestNextGenerationDateIsStrictlyLater(t *testing.T) {
	patterns := []ledger.RecurringInvoice{
		{Frequency: ledger.FrequencyWeekly, DayOfWeek: time.Sunday},
		{Frequency: ledger.FrequencyWeekly, DayOfWeek: time.Saturday},
		{Frequency: ledger.FrequencyMonthly, DayOfMonth: 1},
		{Frequency: ledger.FrequencyMonthly, DayOfMonth: 29},
		{Frequency: ledger.FrequencyMonthly, DayOfMonth: 31},
		{Frequency: ledger.FrequencyQuarterly, DayOfMonth: 31},
	}
	start := day(2025, 12, 1)
	for _, p := range patterns {
		from := start
		for i := 0; i < 400; i++ {
			d := from.AddDate(0, 0, i)
			require.True(t, NextGenerationDate(p, d).After(d), "%s %d from %s", p.Frequency, p.DayOfMonth, d)
		}
	}
}

func TestFirstGenerationDate(t *testing.T) {
	p := ledger.RecurringInvoice{Frequency: ledger.FrequencyMonthly, DayOfMonth: 15}
	require.Equal(t, day(2026, 3, 15), FirstGenerationDate(p, day(2026, 3, 15)))
	require.Equal(t, day(2026, 4, 15), FirstGenerationDate(p, day(2026, 3, 16)))

	w := ledger.RecurringInvoice{Frequency: ledger.FrequencyWeekly, DayOfWeek: time.Monday}
	require.Equal(t, day(2026, 3, 16), FirstGenerationDate(w, day(2026, 3, 16)))
	require.Equal(t, day(2026, 3, 23), FirstGenerationDate(w, day(2026, 3, 17)))
}

func newService(t *testing.T, policy CatchUp) (*Service, *ledgertest.Store) {
	t.Helper()
	store := ledgertest.NewStore()
	svc := NewService(store, billing.Config{NumberPrefix: "REC"}, policy, nil)
	return svc, store
}

func TestGenerateDueClampsFebruary(t *testing.T) {
	svc, store := newService(t, CatchUpSkip)
	ctx := context.Background()

	pattern, err := svc.Create(ctx, CreateInput{
		ProjectID:  1,
		ClientID:   2,
		Frequency:  ledger.FrequencyMonthly,
		DayOfMonth: 31,
		Lines:      lines(),
		StartDate:  day(2026, 1, 31),
	})
	require.NoError(t, err)
	require.Equal(t, day(2026, 1, 31), pattern.NextGenerationDate)

	result, err := svc.GenerateDue(ctx, day(2026, 1, 31))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	inv := result.Generated[0]
	require.Equal(t, ledger.StatusSent, inv.Status)
	require.Equal(t, "REC-000001", inv.Number)
	require.True(t, inv.AmountTotal.Equal(decimal.NewFromInt(1500)))
	require.Equal(t, day(2026, 3, 2), *inv.DueDate)

	stored, err := store.GetRecurring(ctx, pattern.ID)
	require.NoError(t, err)
	require.Equal(t, day(2026, 2, 28), stored.NextGenerationDate)
	require.NotNil(t, stored.LastGeneratedAt)

	again, err := svc.GenerateDue(ctx, day(2026, 1, 31))
	require.NoError(t, err)
	require.Empty(t, again.Generated)
}

func TestGenerateDueSkipsMissedPeriods(t *testing.T) {
	svc, store := newService(t, CatchUpSkip)
	ctx := context.Background()
	pattern, err := svc.Create(ctx, CreateInput{
		ProjectID: 1, ClientID: 2, Frequency: ledger.FrequencyMonthly, DayOfMonth: 5,
		Lines: lines(), StartDate: day(2026, 1, 5),
	})
	require.NoError(t, err)

	result, err := svc.GenerateDue(ctx, day(2026, 5, 20))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)

	stored, err := store.GetRecurring(ctx, pattern.ID)
	require.NoError(t, err)
	require.Equal(t, day(2026, 6, 5), stored.NextGenerationDate)
}

func TestGenerateDueSequentialBackfill(t *testing.T) {
	svc, store := newService(t, CatchUpSequential)
	ctx := context.Background()
	pattern, err := svc.Create(ctx, CreateInput{
		ProjectID: 1, ClientID: 2, Frequency: ledger.FrequencyMonthly, DayOfMonth: 5,
		Lines: lines(), StartDate: day(2026, 1, 5),
	})
	require.NoError(t, err)

	asOf := day(2026, 3, 20)
	for i := 0; i < 3; i++ {
		result, err := svc.GenerateDue(ctx, asOf)
		require.NoError(t, err)
		require.Len(t, result.Generated, 1, "sweep %d", i)
	}
	result, err := svc.GenerateDue(ctx, asOf)
	require.NoError(t, err)
	require.Empty(t, result.Generated)

	stored, err := store.GetRecurring(ctx, pattern.ID)
	require.NoError(t, err)
	require.Equal(t, day(2026, 4, 5), stored.NextGenerationDate)
}

func TestGenerateDueDeactivatesPastEndDate(t *testing.T) {
	svc, store := newService(t, CatchUpSkip)
	ctx := context.Background()
	end := day(2026, 2, 10)
	pattern, err := svc.Create(ctx, CreateInput{
		ProjectID: 1, ClientID: 2, Frequency: ledger.FrequencyMonthly, DayOfMonth: 1,
		Lines: lines(), StartDate: day(2026, 1, 1), EndDate: &end,
	})
	require.NoError(t, err)

	result, err := svc.GenerateDue(ctx, day(2026, 2, 1))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	require.Equal(t, 1, result.Deactivated)

	stored, err := store.GetRecurring(ctx, pattern.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	result, err = svc.GenerateDue(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	require.Empty(t, result.Generated)
}

func TestPauseAndResume(t *testing.T) {
	svc, _ := newService(t, CatchUpSkip)
	svc.WithNow(func() time.Time { return day(2026, 6, 10) })
	ctx := context.Background()
	pattern, err := svc.Create(ctx, CreateInput{
		ProjectID: 1, ClientID: 2, Frequency: ledger.FrequencyMonthly, DayOfMonth: 1,
		Lines: lines(), StartDate: day(2026, 1, 1),
	})
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, pattern.ID)
	require.NoError(t, err)
	require.False(t, paused.IsActive)

	result, err := svc.GenerateDue(ctx, day(2026, 6, 10))
	require.NoError(t, err)
	require.Empty(t, result.Generated)

	resumed, err := svc.Resume(ctx, pattern.ID)
	require.NoError(t, err)
	require.True(t, resumed.IsActive)
	require.Equal(t, day(2026, 7, 1), resumed.NextGenerationDate)

	_, err = svc.Pause(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t, CatchUpSkip)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ProjectID: 1, ClientID: 2, Frequency: ledger.FrequencyWeekly, Lines: lines(), StartDate: day(2026, 1, 1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{ProjectID: 1, ClientID: 2, Frequency: "daily", DayOfMonth: 1, Lines: lines(), StartDate: day(2026, 1, 1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	end := day(2025, 1, 1)
	_, err = svc.Create(ctx, CreateInput{ProjectID: 1, ClientID: 2, Frequency: ledger.FrequencyMonthly, DayOfMonth: 1, Lines: lines(), StartDate: day(2026, 1, 1), EndDate: &end})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentSweepsGenerateOnce(t *testing.T) {
	svc, store := newService(t, CatchUpSkip)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateInput{
			ProjectID: int64(i + 1), ClientID: 2, Frequency: ledger.FrequencyMonthly, DayOfMonth: 1,
			Lines: lines(), StartDate: day(2026, 1, 1),
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.GenerateDue(ctx, day(2026, 1, 1))
			require.NoError(t, err)
			mu.Lock()
			total += len(result.Generated)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 3, total)

	invoices, err := store.ListInvoices(ctx, ledger.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, invoices, 3)
}
