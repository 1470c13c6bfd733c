package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	jobmetrics "github.com/nobhad/no-bhad-codes-sub015/internal/jobs"
	"github.com/nobhad/no-bhad-codes-sub015/internal/recurring"
	"github.com/nobhad/no-bhad-codes-sub015/internal/reminders"
	"github.com/nobhad/no-bhad-codes-sub015/internal/scheduled"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
)

// EventPublisher forwards task-borne events to in-process subscribers.
type EventPublisher interface {
	Emit(ctx context.Context, eventType string, payload map[string]any) error
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// LedgerJobs holds the periodic ledger drivers. Nil services disable their task.
type LedgerJobs struct {
	Billing        *billing.Service
	Recurring      *recurring.Service
	Scheduled      *scheduled.Service
	Reminders      *reminders.Service
	Events         EventPublisher
	Keys           KeyCleaner
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
	Metrics        *jobmetrics.Metrics
	clock          func() time.Time
}

// NewLedgerJobs wires the sweep handlers.
func NewLedgerJobs(j LedgerJobs) *LedgerJobs {
	if j.clock == nil {
		j.clock = func() time.Time { return time.Now().UTC() }
	}
	if j.IdempotencyTTL <= 0 {
		j.IdempotencyTTL = 30 * 24 * time.Hour
	}
	return &j
}

// Handlers lists the task handlers for the worker mux.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRecurringGenerate, Handler: j.HandleRecurring},
		{Type: TaskScheduledFire, Handler: j.HandleScheduled},
		{Type: TaskReminderSweep, Handler: j.HandleReminders},
		{Type: TaskLateFeeSweep, Handler: j.HandleLateFees},
		{Type: TaskMilestoneCompleted, Handler: j.HandleMilestone},
		{Type: TaskIdempotencyCleanup, Handler: j.HandleIdempotencyCleanup},
	}
}

func (j *LedgerJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// sweepDate decodes a SweepPayload. Malformed payloads are never retried.
func (j *LedgerJobs) sweepDate(t *asynq.Task) (time.Time, error) {
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	asOf, err := payload.date(j.clock())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return asOf, nil
}

// run wraps a sweep with metrics and start/finish logging.
func (j *LedgerJobs) run(ctx context.Context, t *asynq.Task, fn func(context.Context, time.Time, *slog.Logger) error) (resultErr error) {
	asOf, err := j.sweepDate(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(t.Type())
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("task", t.Type()), slog.String("as_of", asOf.Format(time.DateOnly)))
	logger.Info("starting sweep")
	start := time.Now()
	if err := fn(ctx, asOf, logger); err != nil {
		logger.Error("sweep finished with errors", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
		return err
	}
	logger.Info("sweep finished", slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleRecurring generates due recurring invoices.
func (j *LedgerJobs) HandleRecurring(ctx context.Context, t *asynq.Task) error {
	if j.Recurring == nil {
		return errors.New("recurring generate: service not configured")
	}
	return j.run(ctx, t, func(ctx context.Context, asOf time.Time, logger *slog.Logger) error {
		result, err := j.Recurring.GenerateDue(ctx, asOf)
		j.Metrics.AddGenerated("recurring", len(result.Generated))
		logger.Info("recurring invoices generated",
			slog.Int("generated", len(result.Generated)),
			slog.Int("deactivated", result.Deactivated),
			slog.Int("skipped", result.Skipped),
		)
		return err
	})
}

// HandleScheduled fires date-triggered scheduled invoices.
func (j *LedgerJobs) HandleScheduled(ctx context.Context, t *asynq.Task) error {
	if j.Scheduled == nil {
		return errors.New("scheduled fire: service not configured")
	}
	return j.run(ctx, t, func(ctx context.Context, asOf time.Time, logger *slog.Logger) error {
		result, err := j.Scheduled.FireDue(ctx, asOf)
		j.Metrics.AddGenerated("scheduled", len(result.Generated))
		logger.Info("scheduled invoices fired", slog.Int("generated", len(result.Generated)), slog.Int("skipped", result.Skipped))
		return err
	})
}

// HandleReminders runs the reminder sweep.
func (j *LedgerJobs) HandleReminders(ctx context.Context, t *asynq.Task) error {
	if j.Reminders == nil {
		return errors.New("reminder sweep: service not configured")
	}
	return j.run(ctx, t, func(ctx context.Context, asOf time.Time, _ *slog.Logger) error {
		result, err := j.Reminders.Sweep(ctx, asOf)
		j.Metrics.AddReminders("sent", result.Sent)
		j.Metrics.AddReminders("skipped", result.Skipped)
		j.Metrics.AddReminders("failed", result.Failed)
		return err
	})
}

// HandleLateFees stamps late fees on overdue invoices.
func (j *LedgerJobs) HandleLateFees(ctx context.Context, t *asynq.Task) error {
	if j.Billing == nil {
		return errors.New("late fee sweep: service not configured")
	}
	return j.run(ctx, t, func(ctx context.Context, asOf time.Time, logger *slog.Logger) error {
		applied, err := j.Billing.ApplyDueLateFees(ctx, asOf)
		logger.Info("late fees applied", slog.Int("applied", applied))
		return err
	})
}

// HandleMilestone republishes a milestone completion on the event bus.
func (j *LedgerJobs) HandleMilestone(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j.Events == nil {
		return errors.New("milestone completed: event bus not configured")
	}
	var payload MilestonePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.MilestoneID <= 0 {
		return fmt.Errorf("%w: invalid milestone payload", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(t.Type())
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	j.logger().Info("milestone completed", slog.Int64("milestone_id", payload.MilestoneID))
	return j.Events.Emit(ctx, workflow.EventMilestoneCompleted, map[string]any{"milestone_id": payload.MilestoneID})
}

// HandleIdempotencyCleanup removes expired idempotency keys.
func (j *LedgerJobs) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j.Keys == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	ttl := j.IdempotencyTTL
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	if payload.OlderThan != "" {
		if d, err := time.ParseDuration(payload.OlderThan); err == nil && d > 0 {
			ttl = d
		}
	}
	tracker := j.Metrics.Track(t.Type())
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	removed, err := j.Keys.Cleanup(ctx, ttl)
	if err != nil {
		return err
	}
	j.logger().Info("idempotency keys removed", slog.Int64("removed", removed), slog.Duration("older_than", ttl))
	return nil
}
