package duckdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/ogirardi/vigil/internal/core/domain"
)

// SaveAuditEvent persists one proactive-run audit record.
func (r *Repository) SaveAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	query := `INSERT INTO audit_events (id, session_id, run_id, kind, status, detail, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), string(ev.SessionID), ev.RunID,
		ev.Kind, ev.Status, ev.Detail, ev.DurationMS, ev.CreatedAt,
	)
	return err
}

// ListAuditEvents returns up to limit events, newest first.
func (r *Repository) ListAuditEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT session_id, run_id, kind, status, detail, duration_ms, created_at FROM audit_events ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var sessionID string
		if err := rows.Scan(&sessionID, &ev.RunID, &ev.Kind, &ev.Status, &ev.Detail, &ev.DurationMS, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.SessionID = domain.SessionID(sessionID)
		events = append(events, ev)
	}
	return events, rows.Err()
}
