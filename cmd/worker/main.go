package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nobhad/no-bhad-codes-sub015/internal/aging"
	"github.com/nobhad/no-bhad-codes-sub015/internal/app"
	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	jobmetrics "github.com/nobhad/no-bhad-codes-sub015/internal/jobs"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/notify"
	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/cache"
	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/db"
	"github.com/nobhad/no-bhad-codes-sub015/internal/recurring"
	"github.com/nobhad/no-bhad-codes-sub015/internal/reminders"
	"github.com/nobhad/no-bhad-codes-sub015/internal/scheduled"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
	"github.com/nobhad/no-bhad-codes-sub015/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	agingCache := aging.NewCache(redisClient, cfg.AgingCacheTTL)

	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		logger.Error("init smtp sender", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	store := ledger.NewPostgresStore(pool)
	bus := workflow.NewBus(logger)
	idempotency := shared.NewIdempotencyStore(pool)

	billingService := billing.NewService(store, cfg.Billing(), logger)
	billingService.SetAudit(shared.NewAuditLogger(pool))
	billingService.SetCache(agingCache)
	billingService.SetEvents(bus)

	recurringService := recurring.NewService(store, cfg.Billing(), cfg.CatchUp(), logger)
	recurringService.SetCache(agingCache)

	scheduledService := scheduled.NewService(store, cfg.Billing(), logger)
	scheduledService.SetCache(agingCache)
	scheduledService.Subscribe(bus)

	reminderService := reminders.NewService(store, reminders.NewPostgresDirectory(pool), jobClient, logger)
	reminderService.SetConcurrency(cfg.ReminderConcurrency)

	metrics := jobmetrics.NewMetrics(nil)
	ledgerJobs := jobs.NewLedgerJobs(jobs.LedgerJobs{
		Billing:        billingService,
		Recurring:      recurringService,
		Scheduled:      scheduledService,
		Reminders:      reminderService,
		Events:         bus,
		Keys:           idempotency,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
		Metrics:        metrics,
	})
	mailJob := jobs.NewMailJob(sender, logger, metrics)

	cron, err := cronRegistrations(cfg)
	if err != nil {
		logger.Error("build cron tasks", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers:  append(ledgerJobs.Handlers(), mailJob.Handler()),
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// cronRegistrations builds the daily sweeps. Cron tasks carry no date, so each
// run uses the worker's clock.
func cronRegistrations(cfg *app.Config) ([]jobs.CronRegistration, error) {
	specs := []struct {
		spec string
		name string
	}{
		{cfg.CronRecurring, jobs.TaskRecurringGenerate},
		{cfg.CronScheduled, jobs.TaskScheduledFire},
		{cfg.CronReminders, jobs.TaskReminderSweep},
		{cfg.CronLateFees, jobs.TaskLateFeeSweep},
		{cfg.CronIdempotency, jobs.TaskIdempotencyCleanup},
	}
	out := make([]jobs.CronRegistration, 0, len(specs))
	for _, s := range specs {
		if s.spec == "" {
			continue
		}
		task, err := jobs.NewTask(s.name, time.Time{})
		if err != nil {
			return nil, err
		}
		out = append(out, jobs.CronRegistration{Spec: s.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	return out, nil
}
