package aging

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/httpx"
)

// Handler exposes the aging report.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers aging routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/aging", h.report)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	clientID, err := httpx.OptionalInt64(r, "client_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Report(r.Context(), asOf, clientID)
	if err != nil {
		h.logger.Error("aging report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
