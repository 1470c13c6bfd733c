package scheduled

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/httpx"
	"github.com/nobhad/no-bhad-codes-sub015/internal/workflow"
)

// Handler exposes scheduled invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	bus     *workflow.Bus
}

// NewHandler builds a Handler instance. Milestone notifications are routed
// through bus so every subscriber observes them.
func NewHandler(logger *slog.Logger, service *Service, bus *workflow.Bus) *Handler {
	return &Handler{logger: logger, service: service, bus: bus}
}

// MountRoutes registers scheduled invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/scheduled", h.create)
	r.Get("/scheduled/{id}", h.get)
	r.Post("/scheduled/{id}/cancel", h.cancel)
	r.Post("/scheduled/{id}/fire", h.fire)
	r.Post("/scheduled/fire-due", h.fireDue)
	r.Post("/milestones/{id}/completed", h.milestoneCompleted)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Warn("create scheduled invoice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

func (h *Handler) fire(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Fire(r.Context(), id, h.service.now())
	if err != nil {
		h.logger.Warn("fire scheduled invoice", slog.Int64("schedule_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"generated": inv != nil, "invoice": inv})
}

func (h *Handler) fireDue(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.FireDue(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) milestoneCompleted(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.bus.Emit(r.Context(), workflow.EventMilestoneCompleted, map[string]any{"milestone_id": id}); err != nil {
		h.logger.Error("milestone completion", slog.Int64("milestone_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
