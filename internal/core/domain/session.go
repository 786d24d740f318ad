package domain

import (
	"errors"
	"time"
)

// SessionID uniquely identifies a chat session
type SessionID string

// MessageRole defines who authored a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// HeartbeatChannel is the fixed delivery channel for heartbeat sessions
const HeartbeatChannel = "heartbeat"

// HeartbeatSessionID returns the fixed session identity used by the
// heartbeat loop for a given agent.
func HeartbeatSessionID(agentID string) SessionID {
	return SessionID("heartbeat:" + agentID)
}

// Message represents a single turn in a session
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

var (
	ErrSessionNotFound = errors.New("session not found")
)
