// Package receipts renders payment receipts and stores them on disk.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt identifies a rendered receipt document.
type Receipt struct {
	ID        string          `json:"id"`
	Number    string          `json:"receipt_number"`
	InvoiceID int64           `json:"invoice_id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Path      string          `json:"path"`
	CreatedAt time.Time       `json:"created_at"`
}

// Document is the data printed on a receipt.
type Document struct {
	Number        string
	InvoiceNumber string
	Currency      string
	Amount        decimal.Decimal
	BalanceDue    decimal.Decimal
	PaymentMethod string
	Reference     string
	PaymentDate   string
	IssuedAt      time.Time
}

// Renderer turns a receipt document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// Service renders receipts and writes them below a directory.
type Service struct {
	renderer Renderer
	dir      string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a receipt service writing into dir.
func NewService(renderer Renderer, dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		renderer: renderer,
		dir:      dir,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Number derives the receipt number of a payment.
func Number(invoiceID, paymentID int64) string {
	return fmt.Sprintf("RCT-%06d-%06d", invoiceID, paymentID)
}

// CreateReceipt renders the receipt for a payment and stores it as a PDF.
func (s *Service) CreateReceipt(ctx context.Context, invoiceID, paymentID int64, amount decimal.Decimal, meta map[string]string) (Receipt, error) {
	if s == nil || s.renderer == nil {
		return Receipt{}, errors.New("receipts: renderer not configured")
	}
	if invoiceID <= 0 || paymentID <= 0 {
		return Receipt{}, errors.New("receipts: invoice and payment ids required")
	}
	balance, err := decimal.NewFromString(defaultString(meta["balance_due"], "0"))
	if err != nil {
		return Receipt{}, fmt.Errorf("receipts: balance_due: %w", err)
	}
	now := s.now()
	doc := Document{
		Number:        Number(invoiceID, paymentID),
		InvoiceNumber: meta["invoice_number"],
		Currency:      defaultString(meta["currency"], "USD"),
		Amount:        amount,
		BalanceDue:    balance,
		PaymentMethod: meta["payment_method"],
		Reference:     meta["reference"],
		PaymentDate:   defaultString(meta["payment_date"], now.Format(time.DateOnly)),
		IssuedAt:      now,
	}
	pdf, err := s.renderer.Render(ctx, doc)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipts: render %s: %w", doc.Number, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("receipts: prepare dir: %w", err)
	}
	path := filepath.Join(s.dir, doc.Number+".pdf")
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return Receipt{}, fmt.Errorf("receipts: write %s: %w", path, err)
	}
	s.logger.Info("receipt stored", slog.String("number", doc.Number), slog.Int("bytes", len(pdf)))
	return Receipt{
		ID:        uuid.NewString(),
		Number:    doc.Number,
		InvoiceID: invoiceID,
		PaymentID: paymentID,
		Amount:    amount,
		Path:      path,
		CreatedAt: now,
	}, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
