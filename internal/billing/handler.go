package billing

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/httpx"
)

// Handler exposes invoice, payment and credit endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Put("/invoices/{id}/lines", h.replaceLines)
	r.Post("/invoices/{id}/send", h.sendInvoice)
	r.Post("/invoices/{id}/viewed", h.markViewed)
	r.Post("/invoices/{id}/cancel", h.cancelInvoice)
	r.Post("/invoices/{id}/late-fee", h.applyLateFee)
	r.Get("/invoices/{id}/payments", h.listPayments)
	r.Post("/invoices/{id}/payments", h.recordPayment)
	r.Get("/invoices/{id}/deposit-balance", h.depositBalance)
	r.Get("/invoices/{id}/audit", h.auditTrail)
	r.Post("/credits", h.applyCredit)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Warn(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	clientID, err := httpx.OptionalInt64(r, "client_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	projectID, err := httpx.OptionalInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), ledger.InvoiceFilter{
		ClientID:  clientID,
		ProjectID: projectID,
		Status:    ledger.InvoiceStatus(r.URL.Query().Get("status")),
		AsOf:      asOf,
		Limit:     200,
	})
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var input CreateInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body struct {
		Lines []ledger.LineTemplate `json:"line_items"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.ReplaceLines(r.Context(), id, body.Lines)
	if err != nil {
		h.fail(w, r, "replace lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "send invoice", h.service.SendInvoice)
}

func (h *Handler) markViewed(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "mark viewed", h.service.MarkViewed)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "cancel invoice", h.service.CancelInvoice)
}

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64) (ledger.Invoice, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) applyLateFee(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.ApplyLateFee(r.Context(), id, asOf)
	if err != nil {
		h.fail(w, r, "apply late fee", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input RecordPaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.InvoiceID = id
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	result, err := h.service.RecordPayment(r.Context(), input)
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) depositBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.AvailableDepositBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, "deposit balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]decimal.Decimal{"available_balance": balance})
}

func (h *Handler) applyCredit(w http.ResponseWriter, r *http.Request) {
	var input ApplyCreditInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ApplyCredit(r.Context(), input)
	if err != nil {
		h.fail(w, r, "apply credit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.AuditTrail(r.Context(), id)
	if err != nil {
		h.fail(w, r, "audit trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": logs})
}
