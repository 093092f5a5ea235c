package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/n9-labs/frontend/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency between the request handlers and the
	// background run consumer.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		run_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(user_id, session_id, created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		run_id TEXT,
		message_id TEXT,
		score INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(user_id, session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// TouchUser updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) TouchUser(ctx context.Context, userID string) error {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
		now, now, userID,
	)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchUser affected 0 rows", "user_id", userID)
	}
	return nil
}

// AppendMessage adds one message to a session transcript.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	query := `
	INSERT INTO messages (id, user_id, session_id, run_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET content = excluded.content`

	var runID interface{}
	if msg.RunID != "" {
		runID = msg.RunID
	}

	return s.withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.UserID, msg.SessionID, runID,
			string(msg.Role), msg.Content, msg.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		return nil
	})
}

// GetMessages returns a session's transcript in insertion order.
func (s *SQLiteStore) GetMessages(ctx context.Context, userID, sessionID string) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, run_id, role, content, created_at
		FROM messages WHERE user_id = ? AND session_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var runID sql.NullString
		var role string
		var createdAt int64

		if err := rows.Scan(&msg.ID, &runID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.UserID = userID
		msg.SessionID = sessionID
		msg.RunID = runID.String
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// DeleteMessages clears a session's transcript.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, userID, sessionID string) error {
	return s.withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE user_id = ? AND session_id = ?`,
			userID, sessionID,
		)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return nil
	})
}

// SaveFeedback persists one feedback record and returns its row ID.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *domain.Feedback) (int64, error) {
	if err := fb.Validate(); err != nil {
		return 0, err
	}

	query := `
	INSERT INTO feedback (user_id, session_id, run_id, message_id, score, comment, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var runID, messageID, comment interface{}
	if fb.RunID != "" {
		runID = fb.RunID
	}
	if fb.MessageID != "" {
		messageID = fb.MessageID
	}
	if fb.Comment != "" {
		comment = fb.Comment
	}

	var id int64
	err := s.withBusyRetry(func() error {
		result, err := s.db.ExecContext(ctx, query,
			fb.UserID, fb.SessionID, runID, messageID,
			int(fb.Score), comment, fb.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("feedback insert id: %w", err)
		}
		return nil
	})
	return id, err
}

// ListFeedback returns feedback for a session, newest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, userID, sessionID string) ([]*domain.Feedback, error) {
	query := `
		SELECT id, run_id, message_id, score, comment, created_at
		FROM feedback WHERE user_id = ? AND session_id = ?
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close feedback rows", "error", closeErr)
		}
	}()

	var items []*domain.Feedback
	for rows.Next() {
		var fb domain.Feedback
		var runID, messageID, comment sql.NullString
		var score int
		var createdAt int64

		if err := rows.Scan(&fb.ID, &runID, &messageID, &score, &comment, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}

		fb.UserID = userID
		fb.SessionID = sessionID
		fb.RunID = runID.String
		fb.MessageID = messageID.String
		fb.Score = domain.FeedbackScore(score)
		fb.Comment = comment.String
		fb.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, &fb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}

	return items, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withBusyRetry retries a write a few times with exponential backoff when
// SQLite reports a lock conflict.
func (s *SQLiteStore) withBusyRetry(fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteConflict(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite write conflict, retrying", "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return err
}

// isSQLiteConflict reports SQLITE_BUSY / database-is-locked conditions,
// which warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
