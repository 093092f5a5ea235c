package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/n9-labs/frontend/internal/domain"
	"github.com/n9-labs/frontend/internal/feedback"
	"github.com/n9-labs/frontend/internal/identity"
	"github.com/n9-labs/frontend/internal/telemetry"
)

// maxCommentLen bounds free-text feedback comments.
const maxCommentLen = 2000

// FeedbackHandler handles feedback submission and retrieval.
type FeedbackHandler struct {
	*Handler
	fbLog   *feedback.Logger
	metrics *telemetry.Metrics
}

// NewFeedbackHandler creates a feedback handler. fbLog may be nil.
func NewFeedbackHandler(base *Handler, fbLog *feedback.Logger, metrics *telemetry.Metrics) *FeedbackHandler {
	return &FeedbackHandler{Handler: base, fbLog: fbLog, metrics: metrics}
}

// RegisterRoutes registers feedback routes.
func (h *FeedbackHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/feedback", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.List)
	})
}

type feedbackRequest struct {
	RunID     string `json:"run_id"`
	MessageID string `json:"message_id"`
	Score     int    `json:"score"`
	Comment   string `json:"comment"`
}

// Submit records one feedback rating.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	var req feedbackRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Comment) > maxCommentLen {
		req.Comment = req.Comment[:maxCommentLen]
	}

	fb := &domain.Feedback{
		UserID:    userID,
		SessionID: sessionID,
		RunID:     req.RunID,
		MessageID: req.MessageID,
		Score:     domain.FeedbackScore(req.Score),
		Comment:   req.Comment,
		CreatedAt: time.Now(),
	}
	if err := fb.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.repo.SaveFeedback(r.Context(), fb)
	if err != nil {
		slog.Error("failed to save feedback", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	fb.ID = id

	h.fbLog.Log(fb)
	h.metrics.AddFeedbackSubmission(r.Context())

	JSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// List returns the session's feedback, newest first.
func (h *FeedbackHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	items, err := h.repo.ListFeedback(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("failed to list feedback", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list feedback")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"feedback": items})
}
