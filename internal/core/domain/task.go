package domain

import (
	"errors"
	"time"
)

// TaskID is the unique identifier for a scheduled task
type TaskID string

// TaskStatus represents the current state of a scheduled task
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed" // one-off that has run
	TaskStatusFailed    TaskStatus = "failed"
)

// ScheduledTask is a future or periodic unit of agent work. Exactly one of
// RunAt (one-off), EveryMS (interval) or CronExpr (cron) drives its schedule;
// precedence when more than one is set: RunAt > EveryMS > CronExpr.
type ScheduledTask struct {
	ID         TaskID     `json:"id"`
	SessionID  SessionID  `json:"session_id"`
	ChannelID  string     `json:"channel_id"`
	Prompt     string     `json:"prompt"`
	CronExpr   string     `json:"cron_expr,omitempty"`
	RunAt      *time.Time `json:"run_at,omitempty"`
	EveryMS    int64      `json:"every_ms,omitempty"`
	NextRun    time.Time  `json:"next_run"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	RunCount   int        `json:"run_count"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	CreatedBy  string     `json:"created_by,omitempty"` // "agent" or "user"
}

var (
	ErrTaskNotFound = errors.New("scheduled task not found")
)
