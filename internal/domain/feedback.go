package domain

import (
	"fmt"
	"time"
)

// FeedbackScore is a human-in-the-loop rating on an agent answer.
type FeedbackScore int

const (
	// ScoreDown is a thumbs-down rating.
	ScoreDown FeedbackScore = -1
	// ScoreUp is a thumbs-up rating.
	ScoreUp FeedbackScore = 1
)

// Feedback captures one rating, optionally with a free-text comment,
// tied to the run (and message) it rates.
type Feedback struct {
	ID        int64         `json:"id"`
	UserID    string        `json:"-"`
	SessionID string        `json:"-"`
	RunID     string        `json:"run_id,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	Score     FeedbackScore `json:"score"`
	Comment   string        `json:"comment,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Validate checks that the feedback carries a legal score.
func (f *Feedback) Validate() error {
	if f.Score != ScoreUp && f.Score != ScoreDown {
		return fmt.Errorf("feedback score must be 1 or -1, got %d", f.Score)
	}
	return nil
}
