package domain

import "time"

// AuditEvent is an append-only record of one proactive run, keyed by
// (SessionID, RunID). Fire-and-forget; never read back by the core.
type AuditEvent struct {
	SessionID  SessionID `json:"session_id"`
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"` // "heartbeat", "scheduled_task"
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
