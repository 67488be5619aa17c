package repository

import (
	"context"
	"database/sql"

	"github.com/crm-migration-api/internal/database"
	"github.com/crm-migration-api/internal/models"
)

// auditRepo implements AuditSink over an append-only table. Record is
// fire-and-forget: a write failure is logged by the database wrapper's
// logger and never propagated into the pipeline.
type auditRepo struct {
	db *database.DB
}

// NewAuditRepo creates a new audit sink
func NewAuditRepo(db *database.DB) AuditSink {
	return &auditRepo{db: db}
}

// Record appends one audit event
func (r *auditRepo) Record(ctx context.Context, event models.AuditEvent) {
	query := `
		INSERT INTO audit_events (session_id, event, entity_type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query,
		event.SessionID, event.Event, nullEntity(event.EntityType), event.Detail, event.CreatedAt,
	); err != nil {
		log := r.db.Log()
		log.Error().Err(err).
			Str("session_id", event.SessionID).
			Str("event", event.Event).
			Msg("Failed to record audit event")
	}
}

// ListForSession returns the session's trail in insertion order
func (r *auditRepo) ListForSession(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	query := `
		SELECT id, session_id, event, COALESCE(entity_type, ''), detail, created_at
		FROM audit_events WHERE session_id = $1 ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.EntityType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullEntity(et models.EntityType) sql.NullString {
	if et == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(et), Valid: true}
}
