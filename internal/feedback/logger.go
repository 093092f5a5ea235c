// Package feedback appends user feedback and conversation events to NDJSON
// log files for offline analysis, in addition to the database records.
package feedback

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/n9-labs/frontend/internal/config"
	"github.com/n9-labs/frontend/internal/domain"
)

// Record is one NDJSON line. Kind separates feedback records from
// conversation messages in the shared session file.
type Record struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Score     int    `json:"score,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
}

const (
	kindFeedback = "feedback"
	kindMessage  = "message"
)

// Logger writes feedback records asynchronously. Submissions never block the
// request path; when the queue is full the record is dropped with a warning.
type Logger struct {
	cfg    config.FeedbackLogConfig
	logger *slog.Logger

	queue chan Record
	done  chan struct{}
	once  sync.Once
}

// NewLogger starts the background writer. Returns nil when logging is
// disabled; a nil *Logger is safe to use.
func NewLogger(cfg config.FeedbackLogConfig, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create feedback log directory: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global feedback log directory: %w", err)
		}
	}

	l := &Logger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Record, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues one feedback record.
func (l *Logger) Log(fb *domain.Feedback) {
	if l == nil {
		return
	}
	l.enqueue(Record{
		Timestamp: fb.CreatedAt.UTC().Format(time.RFC3339),
		Kind:      kindFeedback,
		UserID:    fb.UserID,
		SessionID: fb.SessionID,
		RunID:     fb.RunID,
		MessageID: fb.MessageID,
		Score:     int(fb.Score),
		Comment:   fb.Comment,
	})
}

// LogMessage enqueues one conversation message record.
func (l *Logger) LogMessage(msg *domain.ChatMessage) {
	if l == nil {
		return
	}
	l.enqueue(Record{
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
		Kind:      kindMessage,
		UserID:    msg.UserID,
		SessionID: msg.SessionID,
		RunID:     msg.RunID,
		MessageID: msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
	})
}

func (l *Logger) enqueue(rec Record) {
	select {
	case l.queue <- rec:
	default:
		l.logger.Warn("feedback log queue full, dropping record", "kind", rec.Kind, "user_id", rec.UserID, "session_id", rec.SessionID)
	}
}

// Close drains the queue and stops the writer. Safe to call more than once.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
}

func (l *Logger) run() {
	defer close(l.done)
	for rec := range l.queue {
		l.write(rec)
	}
}

func (l *Logger) write(rec Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		l.logger.Warn("failed to encode feedback record", "error", err)
		return
	}
	line = append(line, '\n')

	if l.cfg.Enabled {
		path := filepath.Join(l.cfg.Dir, rec.UserID, rec.SessionID+".ndjson")
		if err := appendLine(path, line); err != nil {
			l.logger.Warn("failed to write session feedback log", "path", path, "error", err)
		}
	}
	if l.cfg.GlobalEnabled {
		if err := appendLine(l.cfg.GlobalPath, line); err != nil {
			l.logger.Warn("failed to write global feedback log", "path", l.cfg.GlobalPath, "error", err)
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}
