package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/n9-labs/frontend/internal/identity"
)

// WebSocketHandler serves the same event feed as the SSE endpoint for
// clients that prefer a socket (reconnect logic stays client-side either way).
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the WebSocket endpoint handler.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage is the only inbound frame shape the feed accepts.
type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements GET /ws/chat.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	lastEventID := int64(0)
	if raw := r.URL.Query().Get("lastEventId"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	live, missed, unsubscribe := h.hub.Subscribe(userID, sessionID, lastEventID)
	defer unsubscribe()

	slog.Info("WebSocket feed connected", "user_id", userID, "session_id", sessionID, "missed", len(missed))

	// Read loop exists only to notice client close and answer pings.
	go func() {
		defer cancel()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("WebSocket closed by client", "user_id", userID)
				}
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" {
				if err := writeWSJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
					slog.Debug("failed to send pong", "error", err)
					return
				}
			}
		}
	}()

	for _, env := range missed {
		if err := writeWSJSON(ctx, ws, env); err != nil {
			slog.Debug("failed to replay WebSocket event", "error", err, "user_id", userID)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("WebSocket feed disconnected", "user_id", userID, "session_id", sessionID)
			return
		case env, ok := <-live:
			if !ok {
				return
			}
			if err := writeWSJSON(ctx, ws, env); err != nil {
				slog.Debug("WebSocket write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeWSJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
