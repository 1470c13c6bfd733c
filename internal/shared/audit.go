package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one ledger mutation recorded in audit_logs.
type AuditLog struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID int64          `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"occurred_at"`
}

// AuditLogger writes and reads audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID <= 0 {
		return errors.New("audit log requires action, entity and entity id")
	}
	if log.Actor == "" {
		log.Actor = "system"
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	if err != nil {
		return fmt.Errorf("%w: audit insert: %v", ErrStorage, err)
	}
	return nil
}

// Trail returns the most recent entries for one entity, newest first.
func (l *AuditLogger) Trail(ctx context.Context, entity string, entityID int64, limit int) ([]AuditLog, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("audit logger not initialised")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `SELECT actor, action, entity, entity_id, meta, occurred_at
		FROM audit_logs WHERE entity=$1 AND entity_id=$2
		ORDER BY occurred_at DESC, id DESC LIMIT $3`, entity, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: audit trail: %v", ErrStorage, err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditLog, error) {
		var (
			log  AuditLog
			meta []byte
		)
		if err := row.Scan(&log.Actor, &log.Action, &log.Entity, &log.EntityID, &meta, &log.At); err != nil {
			return AuditLog{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &log.Meta); err != nil {
				return AuditLog{}, err
			}
		}
		return log, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: audit trail: %v", ErrStorage, err)
	}
	return logs, nil
}
