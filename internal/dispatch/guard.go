// Package dispatch implements the single-flight delivery guard for a chat
// session's initial message.
//
// The guard guarantees that the one pending message recorded when a session
// enters the chat view is delivered to the transport at most once, no matter
// how many times its Evaluate method is triggered by renders, readiness
// flips, or reconnects. The sent flag is raised before the asynchronous
// dispatch is issued: two triggers racing in the same instant must not both
// observe an unsent message.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the guard's position in its lifecycle.
type State int

const (
	// StateIdle means there is no pending message, or a failed delivery
	// exhausted its retry budget.
	StateIdle State = iota
	// StateWaitingForReady means a message is pending but the transport is busy.
	StateWaitingForReady
	// StateSending means a dispatch has been issued and has not resolved.
	StateSending
	// StateSent is terminal: the message was accepted by the transport.
	StateSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForReady:
		return "waiting_for_ready"
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the chat transport the guard delivers to.
// Dispatch submits one user message; any error is treated as a recoverable
// dispatch failure. Busy reports whether the transport can accept input.
type Transport interface {
	Dispatch(ctx context.Context, message string) error
	Busy() bool
}

// Config holds guard tuning.
type Config struct {
	// MaxAttempts bounds the total number of dispatch calls, including the
	// first. Values below 1 fall back to 1.
	MaxAttempts int
	// RetryBackoff is the fixed delay before re-evaluating after a failure.
	RetryBackoff time.Duration
	// OnError receives the final error when the retry budget is exhausted.
	// It is never invoked for failures that still have retries left.
	OnError func(error)
}

// Guard is the owned state record for one session's initial delivery.
// All state lives on the struct: concurrent sessions never interfere.
type Guard struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	message  string
	sent     bool
	attempts int
	state    State
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
}

// New creates a guard bound to one session's transport.
func New(transport Transport, cfg Config, logger *slog.Logger) *Guard {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetMessage records the pending message and evaluates. The message is
// immutable once recorded; a second call before Reset is ignored.
func (g *Guard) SetMessage(message string) {
	g.mu.Lock()
	if g.message == "" {
		g.message = message
	}
	g.mu.Unlock()
	g.Evaluate()
}

// Evaluate re-runs the delivery decision. Safe to call from any goroutine,
// any number of times; at most one dispatch ever results per retry cycle.
func (g *Guard) Evaluate() {
	g.mu.Lock()

	if g.message == "" {
		g.state = StateIdle
		g.mu.Unlock()
		return
	}
	if g.sent {
		// Already dispatched (or dispatching). Nothing to do, even if the
		// transport has become ready again.
		g.mu.Unlock()
		return
	}
	if g.transport.Busy() {
		g.state = StateWaitingForReady
		g.mu.Unlock()
		return
	}

	// Claim the send before yielding to the asynchronous dispatch. This
	// serializes the decision against re-entrant evaluations.
	g.sent = true
	g.attempts++
	g.state = StateSending
	gen := g.gen
	ctx := g.ctx
	message := g.message
	attempt := g.attempts
	g.mu.Unlock()

	go g.send(ctx, gen, message, attempt)
}

func (g *Guard) send(ctx context.Context, gen uint64, message string, attempt int) {
	err := g.transport.Dispatch(ctx, message)

	g.mu.Lock()
	if gen != g.gen {
		// The session was reset while this dispatch was in flight. Its
		// outcome must not touch the new session's state.
		g.mu.Unlock()
		return
	}

	if err == nil {
		g.state = StateSent
		g.mu.Unlock()
		return
	}

	if attempt >= g.cfg.MaxAttempts {
		g.state = StateIdle
		onError := g.cfg.OnError
		g.mu.Unlock()
		g.logger.Warn("initial message delivery failed permanently", "attempts", attempt, "error", err)
		if onError != nil {
			onError(fmt.Errorf("message delivery failed after %d attempts: %w", attempt, err))
		}
		return
	}

	// Reopen the window for exactly one more attempt after the backoff.
	g.sent = false
	g.state = StateWaitingForReady
	g.timer = time.AfterFunc(g.cfg.RetryBackoff, func() {
		g.retry(gen)
	})
	g.mu.Unlock()
	g.logger.Debug("dispatch failed, retry scheduled", "attempt", attempt, "backoff", g.cfg.RetryBackoff, "error", err)
}

func (g *Guard) retry(gen uint64) {
	g.mu.Lock()
	stale := gen != g.gen
	g.mu.Unlock()
	if stale {
		return
	}
	g.Evaluate()
}

// Reset discards the pending message, cancels any scheduled retry, and
// invalidates in-flight dispatches. Idempotent.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.gen++
	g.message = ""
	g.sent = false
	g.attempts = 0
	g.state = StateIdle
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	cancel := g.cancel
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.mu.Unlock()

	cancel()
}

// State returns the guard's current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Attempts returns how many dispatch calls have been issued for the current
// message.
func (g *Guard) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}
