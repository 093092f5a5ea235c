package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/n9-labs/frontend/internal/domain"
	"github.com/n9-labs/frontend/internal/identity"
	"github.com/n9-labs/frontend/internal/run"
	"github.com/n9-labs/frontend/internal/session"
	"github.com/n9-labs/frontend/internal/suggestions"
)

// ChatHandler handles the chat lifecycle endpoints.
type ChatHandler struct {
	*Handler
	ctl         *session.Controller
	runs        *run.Service
	catalog     *suggestions.Catalog
	rateLimiter *RateLimiter
	chatEnabled bool
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler, ctl *session.Controller, runs *run.Service, catalog *suggestions.Catalog, rl *RateLimiter, chatEnabled bool) *ChatHandler {
	return &ChatHandler{
		Handler:     base,
		ctl:         ctl,
		runs:        runs,
		catalog:     catalog,
		rateLimiter: rl,
		chatEnabled: chatEnabled,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Get("/suggestions", h.GetSuggestions)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/start", h.StartChat)
			r.Post("/message", h.SendMessage)
			r.Post("/end", h.EndChat)
			r.Post("/interrupt", h.Interrupt)
			r.Post("/banner/dismiss", h.DismissBanner)
			r.Get("/transcript", h.GetTranscript)
			r.Get("/history", h.GetHistory)
		})
	})
}

type messageRequest struct {
	Message string `json:"message"`
}

func (h *ChatHandler) allow(w http.ResponseWriter, userID string) bool {
	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// GetMe returns the current user's information.
func (h *ChatHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *ChatHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"chat_enabled": h.chatEnabled,
	})
}

// GetSession returns the session's view state and initial-message delivery
// status.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	// Polling the session state doubles as a delivery re-evaluation trigger;
	// the guard makes re-evaluation free and safe.
	h.ctl.Evaluate(userID, sessionID)

	sess := h.ctl.Get(userID, sessionID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"session":        sess,
		"delivery_state": h.ctl.GuardState(userID, sessionID).String(),
		"busy":           h.runs.Busy(userID, sessionID),
	})
}

// GetSuggestions returns the landing page's suggested prompts.
func (h *ChatHandler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": h.catalog.All(),
	})
}

// StartChat transitions the session into the chat view with an initial
// message. The message is delivered asynchronously; clients observe delivery
// progress on the event stream.
func (h *ChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.chatEnabled {
		Error(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}
	if !h.allow(w, userID) {
		return
	}

	var req messageRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.ctl.StartChat(r.Context(), userID, sessionID, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrEmptyMessage) {
			Error(w, http.StatusBadRequest, "message cannot be empty")
			return
		}
		slog.Error("failed to start chat", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start chat")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session":        sess,
		"delivery_state": h.ctl.GuardState(userID, sessionID).String(),
	})
}

// SendMessage dispatches a follow-up message on an active chat.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.chatEnabled {
		Error(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}
	if !h.allow(w, userID) {
		return
	}

	sess := h.ctl.Get(userID, sessionID)
	if !sess.InChat() {
		Error(w, http.StatusConflict, "no active chat; start one first")
		return
	}

	var req messageRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msg := domain.NormalizeMessage(req.Message)
	if msg == "" {
		Error(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	if err := h.runs.Dispatch(r.Context(), userID, sessionID, msg); err != nil {
		switch {
		case errors.Is(err, run.ErrBusy):
			Error(w, http.StatusConflict, "a response is still streaming")
		case errors.Is(err, run.ErrAgentDisabled):
			Error(w, http.StatusServiceUnavailable, "chat is not available")
		default:
			slog.Error("failed to dispatch message", "user_id", userID, "session_id", sessionID, "error", err)
			Error(w, http.StatusBadGateway, "failed to reach the agent")
		}
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

// EndChat returns the session to the landing view and clears its history.
func (h *ChatHandler) EndChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	h.ctl.EndChat(r.Context(), userID, sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// Interrupt asks the agent to stop the session's active run.
func (h *ChatHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if err := h.runs.Interrupt(r.Context(), userID, sessionID); err != nil {
		if errors.Is(err, run.ErrAgentDisabled) {
			Error(w, http.StatusServiceUnavailable, "chat is not available")
			return
		}
		slog.Error("failed to interrupt run", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusBadGateway, "failed to interrupt the run")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

// DismissBanner clears the session's error banner.
func (h *ChatHandler) DismissBanner(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	h.runs.DismissBanner(userID, sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// GetTranscript returns the session's projected render state.
func (h *ChatHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	JSON(w, http.StatusOK, h.runs.Transcript(userID, sessionID))
}

// GetHistory returns the session's persisted messages.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	messages, err := h.repo.GetMessages(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("failed to load history", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}
