// Package history persists chat sessions and their messages in SQLite.
//
// Every operation opens its own connection, runs, commits and closes it again,
// so separate processes sharing the file serialize on SQLite's file lock.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"MultiChat/internal/session"
)

const (
	// TitleMaxRunes is how much of the first user message becomes the session title.
	TitleMaxRunes = 30

	// PlaceholderTitle names sessions whose first message is not from the user.
	PlaceholderTitle = "new conversation"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRole     = errors.New("invalid message role")
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		platform TEXT,
		model TEXT,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_timestamp ON messages (session_id, timestamp)`,
}

// Store is the chat history kept in a single SQLite file.
type Store struct {
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for message and session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for swallowed write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a store backed by the SQLite file at path. Nothing is opened
// until the first operation.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Init creates the tables and indexes if they are missing. Safe on every start.
func (s *Store) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

// DeriveTitle builds a session title from the first user message.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) > TitleMaxRunes {
		return string(runes[:TitleMaxRunes]) + "..."
	}
	return content
}

// AddMessage appends a message to the session and returns its id. The session
// row is created on first insert (titled from a user message, placeholder
// otherwise) and has its updated_at bumped on every later one.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role session.Role, content, platform, model string) (int64, error) {
	if sessionID == "" {
		return 0, errors.New("session id is required")
	}
	if !role.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	title := PlaceholderTitle
	if role == session.RoleUser {
		title = DeriveTitle(content)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, title, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert session: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, platform, model, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, string(role), content, nullString(platform), nullString(model), now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read message id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("message stored", "session_id", sessionID, "role", role, "message_id", id)
	return id, nil
}

// LoadChat returns the session's messages oldest first. A positive limit keeps
// only the most recent limit messages, still oldest first.
func (s *Store) LoadChat(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var rows *sql.Rows
	if limit > 0 {
		rows, err = db.QueryContext(ctx,
			`SELECT role, content, platform, model, timestamp FROM messages
			 WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
			sessionID, limit,
		)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT role, content, platform, model, timestamp FROM messages
			 WHERE session_id = ? ORDER BY timestamp ASC, id ASC`,
			sessionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var (
			msg             session.Message
			role            string
			platform, model sql.NullString
			ts              dbTime
		)
		if err := rows.Scan(&role, &msg.Content, &platform, &model, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = session.Role(role)
		msg.Platform = platform.String
		msg.Model = model.String
		msg.Timestamp = ts.Time
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	if limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

const summaryQuery = `
	SELECT s.id, s.title, s.created_at, s.updated_at, COUNT(m.id)
	FROM sessions s
	LEFT JOIN messages m ON m.session_id = s.id`

// Sessions lists every session with its message count, most recently updated first.
func (s *Store) Sessions(ctx context.Context) ([]session.Summary, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, summaryQuery+`
	GROUP BY s.id
	ORDER BY s.updated_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []session.Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return summaries, nil
}

// Session returns a single session summary.
func (s *Store) Session(ctx context.Context, sessionID string) (*session.Summary, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, summaryQuery+`
	WHERE s.id = ?
	GROUP BY s.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sum, err := scanSummary(rows)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// DeleteSession removes the session and all of its messages. Failures are
// logged and reported as false.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) bool {
	if err := s.deleteSession(ctx, sessionID); err != nil {
		s.logger.Error("failed to delete session", "session_id", sessionID, "error", err)
		return false
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return true
}

func (s *Store) deleteSession(ctx context.Context, sessionID string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// UpdateSessionTitle renames the session and bumps its updated_at. Failures
// are logged and reported as false.
func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) bool {
	if err := s.updateSessionTitle(ctx, sessionID, title); err != nil {
		s.logger.Error("failed to update session title", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

func (s *Store) updateSessionTitle(ctx context.Context, sessionID, title string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?",
		title, s.now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func scanSummary(rows *sql.Rows) (session.Summary, error) {
	var (
		sum                  session.Summary
		title                sql.NullString
		createdAt, updatedAt dbTime
	)
	if err := rows.Scan(&sum.ID, &title, &createdAt, &updatedAt, &sum.MessageCount); err != nil {
		return session.Summary{}, fmt.Errorf("failed to scan session: %w", err)
	}
	sum.Title = title.String
	sum.CreatedAt = createdAt.Time
	sum.UpdatedAt = updatedAt.Time
	return sum, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
