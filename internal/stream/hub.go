// Package stream fans agent events out to browser clients over SSE and
// WebSocket, with bounded per-session replay for reconnects.
package stream

import (
	"log/slog"
	"sync"

	"github.com/n9-labs/frontend/internal/agent"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this loses events and must rely on replay.
const subscriberBuffer = 64

// Envelope wraps an event with its fan-out sequence ID so clients can
// resume after a disconnect.
type Envelope struct {
	ID    int64       `json:"id"`
	Event agent.Event `json:"event"`
}

// Hub routes events to the subscribers of each user/session pair and keeps
// a bounded replay buffer per session so one user's burst cannot evict
// another session's history.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[int64]chan Envelope
	replay     map[string][]Envelope
	nextSubID  int64
	eventID    int64
	replaySize int
}

// NewHub creates a hub keeping up to replaySize events per session.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = 200
	}
	return &Hub{
		subs:       make(map[string]map[int64]chan Envelope),
		replay:     make(map[string][]Envelope),
		replaySize: replaySize,
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Publish delivers an event to every subscriber of the session and records
// it for replay. Slow subscribers drop events rather than block the stream.
func (h *Hub) Publish(userID, sessionID string, ev agent.Event) {
	key := sessionKey(userID, sessionID)

	h.mu.Lock()
	h.eventID++
	env := Envelope{ID: h.eventID, Event: ev}

	buf := append(h.replay[key], env)
	if len(buf) > h.replaySize {
		buf = buf[len(buf)-h.replaySize:]
	}
	h.replay[key] = buf

	conns := make([]chan Envelope, 0, len(h.subs[key]))
	for _, ch := range h.subs[key] {
		conns = append(conns, ch)
	}
	h.mu.Unlock()

	for _, ch := range conns {
		select {
		case ch <- env:
		default:
			slog.Warn("dropping event for slow stream subscriber", "user_id", userID, "session_id", sessionID, "event_id", env.ID)
		}
	}
}

// Subscribe registers a listener for a session. It returns the live channel,
// any events missed since afterID, and a cancel function that must be called
// when the listener goes away.
func (h *Hub) Subscribe(userID, sessionID string, afterID int64) (<-chan Envelope, []Envelope, func()) {
	key := sessionKey(userID, sessionID)
	ch := make(chan Envelope, subscriberBuffer)

	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[int64]chan Envelope)
	}
	h.subs[key][id] = ch

	var missed []Envelope
	for _, env := range h.replay[key] {
		if env.ID > afterID {
			missed = append(missed, env)
		}
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if conns, ok := h.subs[key]; ok {
			delete(conns, id)
			if len(conns) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
	}
	return ch, missed, cancel
}

// Reset drops the replay buffer for a session. Called when a chat ends so a
// new session starts from a clean feed.
func (h *Hub) Reset(userID, sessionID string) {
	key := sessionKey(userID, sessionID)
	h.mu.Lock()
	delete(h.replay, key)
	h.mu.Unlock()
}

// SubscriberCount reports how many listeners a session currently has.
func (h *Hub) SubscriberCount(userID, sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionKey(userID, sessionID)])
}
