package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/receipts"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

// ReceiptService renders a receipt for a recorded payment.
type ReceiptService interface {
	CreateReceipt(ctx context.Context, invoiceID, paymentID int64, amount decimal.Decimal, meta map[string]string) (receipts.Receipt, error)
}

// AuditPort records ledger mutations and reads them back.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	Trail(ctx context.Context, entity string, entityID int64, limit int) ([]shared.AuditLog, error)
}

// IdempotencyPort rejects replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CacheInvalidator drops cached read models after ledger writes.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// EventPublisher forwards ledger events to the workflow bus.
type EventPublisher interface {
	Emit(ctx context.Context, eventType string, payload map[string]any) error
}

// Config holds invoice defaults.
type Config struct {
	NumberPrefix     string
	PaymentTermsDays int
	DefaultCurrency  string
}

func (c Config) withDefaults() Config {
	if c.NumberPrefix == "" {
		c.NumberPrefix = "INV"
	}
	if c.PaymentTermsDays <= 0 {
		c.PaymentTermsDays = 30
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "USD"
	}
	return c
}

// Service implements the invoice lifecycle together with the payment and credit engines.
type Service struct {
	store    ledger.Store
	cfg      Config
	logger   *slog.Logger
	receipts ReceiptService
	audit    AuditPort
	idem     IdempotencyPort
	cache    CacheInvalidator
	events   EventPublisher
	now      func() time.Time
}

// NewService constructs the billing service.
func NewService(store ledger.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetReceipts wires the receipt collaborator.
func (s *Service) SetReceipts(r ReceiptService) { s.receipts = r }

// SetAudit wires the audit recorder.
func (s *Service) SetAudit(a AuditPort) { s.audit = a }

// SetIdempotency wires the idempotency store used by RecordPayment.
func (s *Service) SetIdempotency(i IdempotencyPort) { s.idem = i }

// SetCache wires read-model invalidation.
func (s *Service) SetCache(c CacheInvalidator) { s.cache = c }

// SetEvents wires the workflow event publisher.
func (s *Service) SetEvents(e EventPublisher) { s.events = e }

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actorFromContext(ctx),
		Action:   action,
		Entity:   "invoice",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("invoice_id", entityID), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, payload); err != nil {
		s.logger.Warn("event publish failed", slog.String("event", eventType), slog.Any("error", err))
	}
}

func actorFromContext(ctx context.Context) string {
	if actor := shared.ActorFromContext(ctx); actor != "" {
		return actor
	}
	return "system"
}
