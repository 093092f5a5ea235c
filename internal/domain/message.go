package domain

import (
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	// RoleUser is a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the agent.
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in a session transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	SessionID string    `json:"-"`
	RunID     string    `json:"run_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
