// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/n9-labs/frontend/internal/domain"
)

// Repository defines the interface for persisting users, transcripts, and
// feedback.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns (nil, nil) when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// TouchUser updates the last_seen_at timestamp for a user.
	TouchUser(ctx context.Context, userID string) error

	// AppendMessage adds one message to a session transcript.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error

	// GetMessages returns a session's transcript in insertion order.
	GetMessages(ctx context.Context, userID, sessionID string) ([]*domain.ChatMessage, error)

	// DeleteMessages clears a session's transcript (new chat started).
	DeleteMessages(ctx context.Context, userID, sessionID string) error

	// SaveFeedback persists one feedback record and returns its row ID.
	SaveFeedback(ctx context.Context, fb *domain.Feedback) (int64, error)

	// ListFeedback returns feedback for a session, newest first.
	ListFeedback(ctx context.Context, userID, sessionID string) ([]*domain.Feedback, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
