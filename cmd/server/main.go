package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nobhad/no-bhad-codes-sub015/internal/aging"
	"github.com/nobhad/no-bhad-codes-sub015/internal/app"
	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/observability"
	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/cache"
	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/db"
	"github.com/nobhad/no-bhad-codes-sub015/internal/receipts"
	"github.com/nobhad/no-bhad-codes-sub015/internal/recurring"
	"github.com/nobhad/no-bhad-codes-sub015/internal/reminders"
	"github.com/nobhad/no-bhad-codes-sub015/internal/scheduled"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
	"github.com/nobhad/no-bhad-codes-sub015/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The API keeps serving without Redis; aging reports are then built per request.
	var agingCache *aging.Cache
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, aging cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		agingCache = aging.NewCache(redisClient, cfg.AgingCacheTTL)
		if err := agingCache.ListenForInvalidation(ctx); err != nil {
			logger.Warn("aging cache listener", slog.Any("error", err))
		}
	}

	renderer, err := newReceiptRenderer(cfg)
	if err != nil {
		logger.Error("init receipt renderer", slog.Any("error", err))
		os.Exit(1)
	}
	receiptService := receipts.NewService(renderer, cfg.ReceiptStorageDir, logger)

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
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	store := ledger.NewPostgresStore(pool)
	bus := workflow.NewBus(logger)

	billingService := billing.NewService(store, cfg.Billing(), logger)
	billingService.SetReceipts(receiptService)
	billingService.SetAudit(shared.NewAuditLogger(pool))
	billingService.SetIdempotency(shared.NewIdempotencyStore(pool))
	billingService.SetEvents(bus)

	recurringService := recurring.NewService(store, cfg.Billing(), cfg.CatchUp(), logger)
	scheduledService := scheduled.NewService(store, cfg.Billing(), logger)
	scheduledService.Subscribe(bus)

	reminderService := reminders.NewService(store, reminders.NewPostgresDirectory(pool), jobClient, logger)
	reminderService.SetConcurrency(cfg.ReminderConcurrency)

	agingService := aging.NewService(store, agingCache, logger)
	if agingCache != nil {
		billingService.SetCache(agingCache)
		recurringService.SetCache(agingCache)
		scheduledService.SetCache(agingCache)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          observability.NewMetrics(),
		BillingHandler:   billing.NewHandler(logger, billingService),
		RecurringHandler: recurring.NewHandler(logger, recurringService),
		ScheduledHandler: scheduled.NewHandler(logger, scheduledService, bus),
		ReminderHandler:  reminders.NewHandler(logger, reminderService),
		AgingHandler:     aging.NewHandler(logger, agingService),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func newReceiptRenderer(cfg *app.Config) (receipts.Renderer, error) {
	if cfg.ReceiptRenderer == "gotenberg" {
		r := receipts.NewGotenbergRenderer(cfg.GotenbergURL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			return nil, err
		}
		return r, nil
	}
	return receipts.NewMarotoRenderer(cfg.ReceiptIssuer), nil
}
