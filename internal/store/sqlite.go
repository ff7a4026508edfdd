package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/shared"
)

const (
	tableQuiz  = "quiz_sessions"
	tableSwipe = "swipe_sessions"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	now     func() time.Time
	quizMu  sync.Mutex // serializes quiz_sessions writes to avoid SQLITE_BUSY
	swipeMu sync.Mutex // serializes swipe_sessions writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets the sweeper read while sessions write.
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

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visitors (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quiz_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_quiz_sessions_updated ON quiz_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS swipe_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_swipe_sessions_updated ON swipe_sessions(updated_at);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetVisitor retrieves a visitor by id.
func (s *SQLiteStore) GetVisitor(ctx context.Context, userID string) (*domain.Visitor, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM visitors WHERE user_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&v.UserID, &v.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}
	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		v.UserID, v.Username, v.LastSeenAt.Unix(), v.CreatedAt.Unix(), v.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// TouchVisitor updates last_seen_at for a visitor.
func (s *SQLiteStore) TouchVisitor(ctx context.Context, userID string, seen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, seen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchVisitor affected 0 rows", "user_id", userID)
	}
	return nil
}

// LoadQuiz returns the stored quiz state, or nil.
func (s *SQLiteStore) LoadQuiz(ctx context.Context, key domain.SessionKey) (*domain.QuizState, error) {
	var state domain.QuizState
	ok, err := s.loadState(ctx, tableQuiz, key, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// SaveQuiz writes the quiz state as one document.
func (s *SQLiteStore) SaveQuiz(ctx context.Context, key domain.SessionKey, state *domain.QuizState) error {
	s.quizMu.Lock()
	defer s.quizMu.Unlock()
	return s.saveState(ctx, tableQuiz, key, state)
}

// DeleteQuiz removes the quiz state.
func (s *SQLiteStore) DeleteQuiz(ctx context.Context, key domain.SessionKey) error {
	s.quizMu.Lock()
	defer s.quizMu.Unlock()
	return s.deleteState(ctx, tableQuiz, key)
}

// LoadSwipe returns the stored swipe state, or nil.
func (s *SQLiteStore) LoadSwipe(ctx context.Context, key domain.SessionKey) (*domain.SwipeState, error) {
	var state domain.SwipeState
	ok, err := s.loadState(ctx, tableSwipe, key, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// SaveSwipe writes the swipe state as one document.
func (s *SQLiteStore) SaveSwipe(ctx context.Context, key domain.SessionKey, state *domain.SwipeState) error {
	s.swipeMu.Lock()
	defer s.swipeMu.Unlock()
	return s.saveState(ctx, tableSwipe, key, state)
}

// DeleteSwipe removes the swipe state.
func (s *SQLiteStore) DeleteSwipe(ctx context.Context, key domain.SessionKey) error {
	s.swipeMu.Lock()
	defer s.swipeMu.Unlock()
	return s.deleteState(ctx, tableSwipe, key)
}

// DeleteSession removes both modalities of a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key domain.SessionKey) error {
	if err := s.DeleteQuiz(ctx, key); err != nil {
		return err
	}
	return s.DeleteSwipe(ctx, key)
}

// ExpiredSessions lists sessions whose newest write is older than ttl.
func (s *SQLiteStore) ExpiredSessions(ctx context.Context, ttl time.Duration) ([]domain.SessionKey, error) {
	threshold := s.now().Add(-ttl).Unix()
	query := `
		SELECT user_id, session_id FROM (
			SELECT user_id, session_id, updated_at FROM quiz_sessions
			UNION ALL
			SELECT user_id, session_id, updated_at FROM swipe_sessions
		)
		GROUP BY user_id, session_id
		HAVING MAX(updated_at) < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var keys []domain.SessionKey
	for rows.Next() {
		var k domain.SessionKey
		if err := rows.Scan(&k.UserID, &k.SessionID); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return keys, nil
}

// loadState decodes the stored document into dst. ok is false when no row
// exists.
func (s *SQLiteStore) loadState(ctx context.Context, table string, key domain.SessionKey, dst any) (bool, error) {
	query := `SELECT state_json FROM ` + table + ` WHERE user_id = ? AND session_id = ?`

	var raw string
	err := s.db.QueryRowContext(ctx, query, key.UserID, key.SessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s %s: %w", table, key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", table, key, err)
	}
	return true, nil
}

func (s *SQLiteStore) saveState(ctx context.Context, table string, key domain.SessionKey, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, key, err)
	}
	now := s.now().Unix()
	query := `
		INSERT INTO ` + table + ` (user_id, session_id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`

	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "save "+table, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, key.UserID, key.SessionID, string(raw), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, key, err)
	}
	return nil
}

func (s *SQLiteStore) deleteState(ctx context.Context, table string, key domain.SessionKey) error {
	query := `DELETE FROM ` + table + ` WHERE user_id = ? AND session_id = ?`
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete "+table, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, key.UserID, key.SessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, key, err)
	}
	return nil
}
