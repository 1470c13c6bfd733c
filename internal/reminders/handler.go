package reminders

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/httpx"
)

// Handler exposes reminder endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reminder routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices/{id}/reminders", h.list)
	r.Post("/invoices/{id}/reminders", h.ensure)
	r.Post("/reminders/{id}/send", h.send)
	r.Post("/reminders/{id}/skip", h.skip)
	r.Get("/reminders/due", h.due)
	r.Post("/reminders/sweep", h.sweep)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListReminders(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reminders": rows})
}

func (h *Handler) ensure(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.EnsureReminders(r.Context(), id)
	if err != nil {
		h.logger.Warn("ensure reminders", slog.Int64("invoice_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.service.SendReminder(r.Context(), id, h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) skip(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.SkipReminder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) due(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListDue(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reminders": rows})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Sweep(r.Context(), asOf)
	if err != nil {
		h.logger.Error("reminder sweep", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
