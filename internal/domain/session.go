// Package domain contains core domain types for the Expert Finder frontend.
package domain

import (
	"strings"
	"time"
)

// ViewMode identifies which top-level view a session is showing.
type ViewMode string

const (
	// ViewLanding is the landing page with suggested prompts.
	ViewLanding ViewMode = "landing"
	// ViewChat is the active chat view.
	ViewChat ViewMode = "chat"
)

// ChatSession holds the view state for one browser tab session.
// PendingMessage is set exactly once, when the session transitions from
// landing to chat, and stays immutable until the session is reset.
type ChatSession struct {
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	ViewMode       ViewMode  `json:"view_mode"`
	PendingMessage string    `json:"pending_message,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

// InChat returns true if the session has left the landing page.
func (s *ChatSession) InChat() bool {
	return s.ViewMode == ViewChat
}

// NormalizeMessage trims a user message for dispatch.
// An empty result means the message must not start a chat.
func NormalizeMessage(message string) string {
	return strings.TrimSpace(message)
}
