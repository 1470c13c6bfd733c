// Package workflow carries in-process domain events between ledger components.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
)

// Event types published by the ledger or consumed from the project workflow.
const (
	EventMilestoneCompleted = "milestone.completed"
	EventDepositAvailable   = "deposit.available"
	EventInvoicePaid        = "invoice.paid"
)

// Handler reacts to a published event.
type Handler func(ctx context.Context, payload map[string]any) error

// Bus dispatches events synchronously to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[string][]Handler), logger: logger}
}

// Subscribe registers h for eventType.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Emit runs every handler for eventType. All handlers run even when one
// fails; their errors are joined.
func (b *Bus) Emit(ctx context.Context, eventType string, payload map[string]any) error {
	if eventType == "" {
		return errors.New("workflow: event type required")
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("workflow event without subscribers", slog.String("event", eventType))
		return nil
	}
	var errs []error
	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Warn("workflow handler failed", slog.String("event", eventType), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MilestoneID extracts the milestone_id field from an event payload. JSON
// decoded payloads carry numbers as float64 or strings.
func MilestoneID(payload map[string]any) (int64, error) {
	return Int64Field(payload, "milestone_id")
}

// Int64Field reads a positive integer field from a payload.
func Int64Field(payload map[string]any, key string) (int64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("workflow: payload missing %s", key)
	}
	var id int64
	switch v := raw.(type) {
	case int64:
		id = v
	case int:
		id = int64(v)
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("workflow: %s is not an integer", key)
		}
		id = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("workflow: %s: %w", key, err)
		}
		id = parsed
	default:
		return 0, fmt.Errorf("workflow: %s has unsupported type %T", key, raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("workflow: %s must be positive", key)
	}
	return id, nil
}
