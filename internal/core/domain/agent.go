package domain

// AgentStatus is the agent-reported outcome of an invocation
type AgentStatus string

const (
	AgentStatusSuccess AgentStatus = "success"
	AgentStatusError   AgentStatus = "error"
)

// ScheduleEffectKind tags a schedule mutation declared by the agent
type ScheduleEffectKind string

const (
	ScheduleEffectAdd    ScheduleEffectKind = "add"
	ScheduleEffectRemove ScheduleEffectKind = "remove"
)

// ScheduleEffect is an agent-declared instruction to add or remove a task.
// For Add, at most one of CronExpr/RunAtMS/EveryMS is authoritative; the
// bridge forwards them opaquely without cross-validation.
type ScheduleEffect struct {
	Kind     ScheduleEffectKind `json:"kind"`
	TaskID   TaskID             `json:"task_id,omitempty"`  // Remove
	Prompt   string             `json:"prompt,omitempty"`   // Add
	CronExpr string             `json:"cron_expr,omitempty"`
	RunAtMS  int64              `json:"run_at_ms,omitempty"` // unix millis
	EveryMS  int64              `json:"every_ms,omitempty"`
}

// SideEffects groups the out-of-band mutations carried by an agent reply
type SideEffects struct {
	Schedules []ScheduleEffect `json:"schedules,omitempty"`
}

// AgentOutput is the result of one agent invocation, consumed read-only.
type AgentOutput struct {
	Status      AgentStatus  `json:"status"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	SideEffects *SideEffects `json:"side_effects,omitempty"`
}

// AgentRunRequest carries everything the agent invocation needs for one call
type AgentRunRequest struct {
	SessionID      SessionID
	Messages       []Message
	ChatbotID      string
	RAGEnabled     bool
	Model          string
	AgentID        string
	ChannelID      string
	ScheduledTasks []ScheduledTask
}
