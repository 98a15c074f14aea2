package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Immutable once appended.
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Text            string           `json:"text"`
	AttachedContext *ContextSnapshot `json:"attached_context,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// SessionState tracks the per-session send state machine.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionSending SessionState = "sending"
	SessionError   SessionState = "error"
)

// SessionStatus is the snapshot returned by the status operation.
type SessionStatus struct {
	SessionID    string       `json:"session_id"`
	State        SessionState `json:"state"`
	Connected    bool         `json:"connected"`
	MessageCount int          `json:"message_count"`
	LastError    string       `json:"last_error,omitempty"`
}
