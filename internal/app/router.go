package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nobhad/no-bhad-codes-sub015/internal/aging"
	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/observability"
	"github.com/nobhad/no-bhad-codes-sub015/internal/recurring"
	"github.com/nobhad/no-bhad-codes-sub015/internal/reminders"
	"github.com/nobhad/no-bhad-codes-sub015/internal/scheduled"
	"github.com/nobhad/no-bhad-codes-sub015/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	BillingHandler   *billing.Handler
	RecurringHandler *recurring.Handler
	ScheduledHandler *scheduled.Handler
	ReminderHandler  *reminders.Handler
	AgingHandler     *aging.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with the ledger API mounted under /api.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Logger)
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.RecurringHandler != nil {
			params.RecurringHandler.MountRoutes(r)
		}
		if params.ScheduledHandler != nil {
			params.ScheduledHandler.MountRoutes(r)
		}
		if params.ReminderHandler != nil {
			params.ReminderHandler.MountRoutes(r)
		}
		if params.AgingHandler != nil {
			params.AgingHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
