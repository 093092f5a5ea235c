package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/n9-labs/frontend/internal/config"
	"github.com/n9-labs/frontend/internal/identity"
)

// SSEHandler serves the live event feed as server-sent events, replaying
// missed events when a client reconnects with a Last-Event-ID.
type SSEHandler struct {
	hub *Hub
	cfg config.SSEConfig
}

// NewSSEHandler creates the SSE endpoint handler.
func NewSSEHandler(hub *Hub, cfg config.SSEConfig) *SSEHandler {
	return &SSEHandler{hub: hub, cfg: cfg}
}

// ServeHTTP implements GET /api/chat/stream.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry hint", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	live, missed, cancel := h.hub.Subscribe(userID, sessionID, lastEventID)
	defer cancel()

	slog.Info("event stream connected",
		"user_id", userID,
		"session_id", sessionID,
		"reconnect", lastEventID > 0,
		"missed", len(missed),
	)

	for _, env := range missed {
		if err := writeSSEEnvelope(w, env); err != nil {
			slog.Warn("failed to replay SSE event", "error", err, "user_id", userID)
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("event stream disconnected", "user_id", userID, "session_id", sessionID)
			return
		case env, ok := <-live:
			if !ok {
				return
			}
			if err := writeSSEEnvelope(w, env); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				slog.Warn("failed to write SSE keepalive", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEnvelope(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", env.ID, data)
	return err
}
