// Package run drives agent runs for chat sessions: it starts runs, consumes
// their event streams, projects them into render state, fans them out to
// connected clients, and persists the resulting conversation.
package run

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n9-labs/frontend/internal/agent"
	"github.com/n9-labs/frontend/internal/domain"
	"github.com/n9-labs/frontend/internal/feedback"
	"github.com/n9-labs/frontend/internal/store"
	"github.com/n9-labs/frontend/internal/stream"
	"github.com/n9-labs/frontend/internal/telemetry"
)

var (
	// ErrBusy means a run is already active for the session.
	ErrBusy = errors.New("a run is already active for this session")
	// ErrAgentDisabled means the service was started without an agent backend.
	ErrAgentDisabled = errors.New("agent backend is not configured")
)

// EventSource is a consumable stream of run events.
type EventSource interface {
	Events() iter.Seq2[agent.Event, error]
	Close() error
}

// Runner starts and interrupts agent runs. *agent.Client satisfies it through
// the adapter returned by NewAgentRunner.
type Runner interface {
	Start(ctx context.Context, input agent.RunInput) (EventSource, error)
	Interrupt(ctx context.Context, threadID string) error
}

type clientRunner struct {
	c *agent.Client
}

func (r clientRunner) Start(ctx context.Context, input agent.RunInput) (EventSource, error) {
	return r.c.Start(ctx, input)
}

func (r clientRunner) Interrupt(ctx context.Context, threadID string) error {
	return r.c.Interrupt(ctx, threadID)
}

// NewAgentRunner adapts an agent client to the Runner interface.
func NewAgentRunner(c *agent.Client) Runner {
	return clientRunner{c: c}
}

// ReadinessObserver is notified when a session's run finishes and the session
// can accept another dispatch.
type ReadinessObserver func(userID, sessionID string)

type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

// Service owns the run lifecycle for every session.
type Service struct {
	runner  Runner
	hub     *stream.Hub
	repo    store.Repository
	metrics *telemetry.Metrics
	logger  *slog.Logger
	conv    *feedback.Logger

	mu          sync.Mutex
	active      map[string]*activeRun
	transcripts map[string]*agent.Transcript
	observers   []ReadinessObserver
}

// NewService creates a run service. runner may be nil, in which case every
// dispatch fails with ErrAgentDisabled and sessions report busy.
func NewService(runner Runner, hub *stream.Hub, repo store.Repository, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:      runner,
		hub:         hub,
		repo:        repo,
		metrics:     metrics,
		logger:      logger,
		active:      make(map[string]*activeRun),
		transcripts: make(map[string]*agent.Transcript),
	}
}

// OnReady registers an observer called whenever a session becomes ready for
// another dispatch. Must be called before the first Dispatch.
func (s *Service) OnReady(fn ReadinessObserver) {
	s.observers = append(s.observers, fn)
}

// SetConversationLogger routes every persisted conversation message to the
// NDJSON session log. A nil logger disables it. Must be called before the
// first Dispatch.
func (s *Service) SetConversationLogger(l *feedback.Logger) {
	s.conv = l
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Busy reports whether the session cannot accept a dispatch right now.
func (s *Service) Busy(userID, sessionID string) bool {
	if s.runner == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.active[sessionKey(userID, sessionID)]
	return exists
}

// Dispatch starts one agent run carrying the given user message. The returned
// error covers only run startup; failures after the stream is established are
// delivered through the session's event feed. The run itself outlives ctx.
func (s *Service) Dispatch(ctx context.Context, userID, sessionID, message string) error {
	if s.runner == nil {
		return ErrAgentDisabled
	}
	key := sessionKey(userID, sessionID)

	s.mu.Lock()
	if _, exists := s.active[key]; exists {
		s.mu.Unlock()
		return ErrBusy
	}
	tr := s.transcripts[key]
	if tr == nil {
		tr = agent.NewTranscript()
		s.transcripts[key] = tr
	}
	history := historyMessages(tr)

	runID := uuid.NewString()
	msgID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.active[key] = &activeRun{runID: runID, cancel: cancel}
	s.mu.Unlock()

	s.metrics.AddDispatchAttempt(ctx)

	input := agent.RunInput{
		ThreadID: sessionID,
		RunID:    runID,
		Messages: append(history, agent.Message{ID: msgID, Role: "user", Content: message}),
	}

	src, err := s.runner.Start(runCtx, input)
	if err != nil {
		cancel()
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
		s.metrics.AddDispatchFailure(ctx)
		s.notifyReady(userID, sessionID)
		return fmt.Errorf("start run: %w", err)
	}

	// Echo the user message through the same event pipeline the agent output
	// takes, so the UI renders it exactly once regardless of reconnects.
	for _, ev := range userMessageEvents(runID, msgID, message) {
		s.applyAndPublish(userID, sessionID, ev)
	}
	s.persistMessage(userID, sessionID, runID, msgID, domain.RoleUser, message)

	go s.consume(userID, sessionID, key, runID, src, cancel)
	return nil
}

func (s *Service) consume(userID, sessionID, key, runID string, src EventSource, cancel context.CancelFunc) {
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
		s.notifyReady(userID, sessionID)
	}()

	for ev, err := range src.Events() {
		// A run superseded by EndSession must not touch the fresh session's
		// transcript or replay buffer, and a cancellation-induced stream
		// error is not a user-facing failure.
		if !s.runActive(key, runID) {
			s.logger.Debug("dropping output from superseded run", "user_id", userID, "session_id", sessionID, "run_id", runID)
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Debug("run stream canceled", "user_id", userID, "session_id", sessionID, "run_id", runID)
				return
			}
			s.logger.Warn("run stream failed", "user_id", userID, "session_id", sessionID, "run_id", runID, "error", err)
			s.metrics.AddRunError(context.Background())
			s.applyAndPublish(userID, sessionID, agent.Event{
				Type:    agent.EventRunError,
				RunID:   runID,
				Message: err.Error(),
			})
			return
		}

		s.applyAndPublish(userID, sessionID, ev)

		switch ev.Type {
		case agent.EventTextMessageEnd:
			s.persistAssistantMessage(userID, sessionID, runID, ev.MessageID)
		case agent.EventRunError:
			s.metrics.AddRunError(context.Background())
		case agent.EventRunFinished:
			s.logger.Debug("run finished", "user_id", userID, "session_id", sessionID, "run_id", runID)
		}
	}
}

// runActive reports whether runID is still the session's active run.
func (s *Service) runActive(key, runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.active[key]
	return a != nil && a.runID == runID
}

// applyAndPublish folds the event into the session transcript and fans it
// out to subscribers.
func (s *Service) applyAndPublish(userID, sessionID string, ev agent.Event) {
	key := sessionKey(userID, sessionID)

	s.mu.Lock()
	tr := s.transcripts[key]
	if tr == nil {
		tr = agent.NewTranscript()
		s.transcripts[key] = tr
	}
	tr.Apply(ev)
	s.mu.Unlock()

	s.hub.Publish(userID, sessionID, ev)
}

// PublishError surfaces a local (non-agent) error on the session's feed, such
// as dispatch retries being exhausted. The session stays usable.
func (s *Service) PublishError(userID, sessionID, message string) {
	s.applyAndPublish(userID, sessionID, agent.Event{
		Type:    agent.EventRunError,
		Message: message,
	})
}

// Interrupt asks the agent to stop the session's active run.
func (s *Service) Interrupt(ctx context.Context, userID, sessionID string) error {
	if s.runner == nil {
		return ErrAgentDisabled
	}

	s.mu.Lock()
	_, exists := s.active[sessionKey(userID, sessionID)]
	s.mu.Unlock()
	if !exists {
		return nil
	}

	if err := s.runner.Interrupt(ctx, sessionID); err != nil {
		return fmt.Errorf("interrupt run: %w", err)
	}
	return nil
}

// Transcript returns a copy of the session's current render state.
func (s *Service) Transcript(userID, sessionID string) *agent.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.transcripts[sessionKey(userID, sessionID)]
	if tr == nil {
		return agent.NewTranscript()
	}
	return tr.Clone()
}

// DismissBanner clears the session's error banner.
func (s *Service) DismissBanner(userID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr := s.transcripts[sessionKey(userID, sessionID)]; tr != nil {
		tr.DismissBanner()
	}
}

// EndSession cancels any active run and discards the session's in-memory and
// replay state. Persisted history is cleared separately by the caller.
func (s *Service) EndSession(userID, sessionID string) {
	key := sessionKey(userID, sessionID)

	s.mu.Lock()
	if run, ok := s.active[key]; ok {
		run.cancel()
		delete(s.active, key)
	}
	delete(s.transcripts, key)
	s.mu.Unlock()

	s.hub.Reset(userID, sessionID)
}

func (s *Service) notifyReady(userID, sessionID string) {
	for _, fn := range s.observers {
		fn(userID, sessionID)
	}
}

func (s *Service) persistAssistantMessage(userID, sessionID, runID, messageID string) {
	if messageID == "" {
		return
	}

	s.mu.Lock()
	tr := s.transcripts[sessionKey(userID, sessionID)]
	var content string
	var ok bool
	if tr != nil {
		content, ok = tr.MessageContent(messageID)
	}
	s.mu.Unlock()

	if !ok || content == "" {
		return
	}
	s.persistMessage(userID, sessionID, runID, messageID, domain.RoleAssistant, content)
}

func (s *Service) persistMessage(userID, sessionID, runID, messageID string, role domain.Role, content string) {
	msg := &domain.ChatMessage{
		ID:        messageID,
		UserID:    userID,
		SessionID: sessionID,
		RunID:     runID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	s.conv.LogMessage(msg)

	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to persist chat message", "user_id", userID, "session_id", sessionID, "message_id", messageID, "error", err)
	}
}

// historyMessages converts the projected transcript into the message history
// sent with the next run request.
func historyMessages(tr *agent.Transcript) []agent.Message {
	msgs := make([]agent.Message, 0, len(tr.Messages))
	for _, m := range tr.Messages {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, agent.Message{ID: m.ID, Role: m.Role, Content: m.Content})
	}
	return msgs
}

// userMessageEvents renders one user message as a start/content/end triple.
func userMessageEvents(runID, messageID, content string) []agent.Event {
	return []agent.Event{
		{Type: agent.EventTextMessageStart, RunID: runID, MessageID: messageID, Role: "user"},
		{Type: agent.EventTextMessageContent, RunID: runID, MessageID: messageID, Delta: content},
		{Type: agent.EventTextMessageEnd, RunID: runID, MessageID: messageID},
	}
}
