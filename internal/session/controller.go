// Package session implements the chat session lifecycle: the transition from
// the landing view into the chat view, the single pending initial message
// recorded on that transition, and the return to landing when a chat ends.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/n9-labs/frontend/internal/config"
	"github.com/n9-labs/frontend/internal/dispatch"
	"github.com/n9-labs/frontend/internal/domain"
	"github.com/n9-labs/frontend/internal/store"
)

// ErrEmptyMessage means the submitted message was empty after trimming.
// The session stays on the landing view.
var ErrEmptyMessage = errors.New("message is empty")

// Dispatcher is the run backend the controller delivers messages to.
// *run.Service satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, sessionID, message string) error
	Busy(userID, sessionID string) bool
	PublishError(userID, sessionID, message string)
	EndSession(userID, sessionID string)
}

// sessionTransport binds one session's identity onto the Dispatcher so the
// delivery guard can stay ignorant of session keys.
type sessionTransport struct {
	runs      Dispatcher
	userID    string
	sessionID string
}

func (t sessionTransport) Dispatch(ctx context.Context, message string) error {
	return t.runs.Dispatch(ctx, t.userID, t.sessionID, message)
}

func (t sessionTransport) Busy() bool {
	return t.runs.Busy(t.userID, t.sessionID)
}

type entry struct {
	sess  domain.ChatSession
	guard *dispatch.Guard
}

// Controller tracks every session's view state and owns the delivery guard
// for each session's initial message.
type Controller struct {
	runs   Dispatcher
	repo   store.Repository
	cfg    config.DispatchConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewController creates a session controller.
func NewController(runs Dispatcher, repo store.Repository, cfg config.DispatchConfig, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		runs:    runs,
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// StartChat transitions the session from landing into chat with the given
// initial message. A whitespace-only message is rejected and the session
// stays on landing. Starting while already in chat ends the previous chat
// first.
func (c *Controller) StartChat(ctx context.Context, userID, sessionID, message string) (domain.ChatSession, error) {
	msg := domain.NormalizeMessage(message)
	if msg == "" {
		return c.Get(userID, sessionID), ErrEmptyMessage
	}

	key := sessionKey(userID, sessionID)

	c.mu.Lock()
	if prev, ok := c.entries[key]; ok && prev.sess.InChat() {
		c.mu.Unlock()
		c.EndChat(ctx, userID, sessionID)
		c.mu.Lock()
	}

	transport := sessionTransport{runs: c.runs, userID: userID, sessionID: sessionID}
	guard := dispatch.New(transport, dispatch.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		RetryBackoff: c.cfg.RetryBackoff,
		OnError: func(err error) {
			c.logger.Warn("initial message undeliverable", "user_id", userID, "session_id", sessionID, "error", err)
			c.runs.PublishError(userID, sessionID, err.Error())
		},
	}, c.logger)

	e := &entry{
		sess: domain.ChatSession{
			UserID:         userID,
			SessionID:      sessionID,
			ViewMode:       domain.ViewChat,
			PendingMessage: msg,
			StartedAt:      time.Now(),
		},
		guard: guard,
	}
	c.entries[key] = e
	sess := e.sess
	c.mu.Unlock()

	guard.SetMessage(msg)
	return sess, nil
}

// EndChat returns the session to the landing view, cancels any pending or
// in-flight delivery, and clears the session's history. Idempotent.
func (c *Controller) EndChat(ctx context.Context, userID, sessionID string) {
	key := sessionKey(userID, sessionID)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if e != nil {
		e.guard.Reset()
	}
	c.runs.EndSession(userID, sessionID)

	if c.repo != nil {
		if err := c.repo.DeleteMessages(ctx, userID, sessionID); err != nil {
			c.logger.Warn("failed to clear session history", "user_id", userID, "session_id", sessionID, "error", err)
		}
	}
}

// Get returns the session's current state. Sessions that never started a
// chat report the landing view.
func (c *Controller) Get(userID, sessionID string) domain.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sessionKey(userID, sessionID)]; ok {
		return e.sess
	}
	return domain.ChatSession{
		UserID:    userID,
		SessionID: sessionID,
		ViewMode:  domain.ViewLanding,
	}
}

// Evaluate re-runs the session's delivery decision. Safe to call on every
// render, readiness change, or reconnect.
func (c *Controller) Evaluate(userID, sessionID string) {
	c.mu.Lock()
	e, ok := c.entries[sessionKey(userID, sessionID)]
	c.mu.Unlock()
	if ok {
		e.guard.Evaluate()
	}
}

// HandleReady is the readiness observer hook for the run backend.
func (c *Controller) HandleReady(userID, sessionID string) {
	c.Evaluate(userID, sessionID)
}

// GuardState exposes the delivery state of a session's initial message for
// the session status endpoint.
func (c *Controller) GuardState(userID, sessionID string) dispatch.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sessionKey(userID, sessionID)]; ok {
		return e.guard.State()
	}
	return dispatch.StateIdle
}
