package duckdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/ogirardi/vigil/internal/core/domain"
)

// EnsureSession creates the session row if it does not exist yet.
func (r *Repository) EnsureSession(ctx context.Context, id domain.SessionID, guildID, channelID string) error {
	query := `
	INSERT INTO sessions (id, guild_id, channel_id)
	VALUES (?, ?, ?)
	ON CONFLICT (id) DO NOTHING;
	`
	_, err := r.db.ExecContext(ctx, query, string(id), guildID, channelID)
	return err
}

// GetHistory returns up to limit messages for the session, most recent
// first. Callers that want chronological order reverse the slice.
func (r *Repository) GetHistory(ctx context.Context, id domain.SessionID, limit int) ([]domain.Message, error) {
	query := `SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, string(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// StoreMessage appends one conversation turn to the session.
func (r *Repository) StoreMessage(ctx context.Context, id domain.SessionID, source, subSource string, role domain.MessageRole, content string) error {
	query := `INSERT INTO messages (id, session_id, source, sub_source, role, content) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), string(id), source, subSource, string(role), content,
	)
	return err
}

// ScheduledTasks returns the session's active tasks, soonest first.
func (r *Repository) ScheduledTasks(ctx context.Context, id domain.SessionID) ([]domain.ScheduledTask, error) {
	query := scheduledTaskColumns + ` FROM scheduled_tasks WHERE session_id = ? AND status = 'active' ORDER BY next_run ASC`
	rows, err := r.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScheduledTasks(rows)
}
