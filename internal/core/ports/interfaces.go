package ports

import (
	"context"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
)

// SessionStore abstracts session and history persistence (DuckDB).
type SessionStore interface {
	// EnsureSession creates the session if it does not exist yet.
	EnsureSession(ctx context.Context, id domain.SessionID, guildID, channelID string) error

	// GetHistory returns up to limit turns, most recent first.
	GetHistory(ctx context.Context, id domain.SessionID, limit int) ([]domain.Message, error)

	// StoreMessage appends one turn to the session.
	StoreMessage(ctx context.Context, id domain.SessionID, source, subSource string, role domain.MessageRole, content string) error

	// ScheduledTasks returns the tasks currently bound to the session.
	ScheduledTasks(ctx context.Context, id domain.SessionID) ([]domain.ScheduledTask, error)
}

// TaskStore abstracts scheduled-task persistence.
type TaskStore interface {
	// CreateTask persists a task carrying whichever of cronExpr, runAt or
	// everyMS was supplied. Returns the new task id.
	CreateTask(ctx context.Context, sessionID domain.SessionID, channelID, cronExpr, prompt string, runAt *time.Time, everyMS int64) (domain.TaskID, error)

	// DeleteTask removes a task by id.
	DeleteTask(ctx context.Context, id domain.TaskID) error
}

// AgentRunner invokes the LLM agent. A returned error means the invocation
// itself could not complete; agent-reported failures come back as
// AgentOutput with status "error".
type AgentRunner interface {
	Run(ctx context.Context, req domain.AgentRunRequest) (domain.AgentOutput, error)
}

// Scheduler is the external task scheduler; Rearm is an idempotent signal
// meaning "reconsider the task set now".
type Scheduler interface {
	Rearm()
}

// AuditLog is a fire-and-forget sink for proactive-run events.
type AuditLog interface {
	Record(ctx context.Context, ev domain.AuditEvent)
}
