package recurring

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/httpx"
)

// Handler exposes recurring pattern endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers recurring routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/recurring", h.list)
	r.Post("/recurring", h.create)
	r.Get("/recurring/{id}", h.get)
	r.Post("/recurring/{id}/pause", h.pause)
	r.Post("/recurring/{id}/resume", h.resume)
	r.Post("/recurring/generate", h.generate)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.service.List(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.logger.Warn("list recurring", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"recurring_invoices": patterns})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Warn("create recurring", slog.Any("error", err))
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
	pattern, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pattern)
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pattern, err := h.service.Pause(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pattern)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pattern, err := h.service.Resume(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pattern)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.GenerateDue(r.Context(), asOf)
	if err != nil {
		h.logger.Error("recurring sweep", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
