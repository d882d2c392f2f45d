package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	EventID  uuid.UUID
	ActorID  uuid.UUID
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db dbtx
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db dbtx) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry. Entries are keyed by event id so redelivery is harmless.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (event_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
ON CONFLICT (event_id) DO NOTHING`, log.EventID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
