package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psalabs/pulse/internal/domain"
	"github.com/psalabs/pulse/internal/event"
	"github.com/psalabs/pulse/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes agent session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
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
		display_name TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL,
		query TEXT NOT NULL,
		response TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_updated ON agent_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS event_archive (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_archive_archived ON event_archive(archived_at);
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
	return s.db.Close()
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var displayName sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &displayName, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.DisplayName = displayName.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.DisplayName,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
		lastSeen.Unix(), time.Now().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return nil
}

// CreateAgentSession records a new query run.
func (s *SQLiteStore) CreateAgentSession(ctx context.Context, session *domain.AgentSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `
	INSERT INTO agent_sessions (session_id, user_id, agent_name, status, query, response, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.execWithRetry(ctx, query,
		session.SessionID, session.UserID, session.AgentName, string(session.Status),
		session.Query, session.Response, session.Error,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create agent session: %w", err)
	}
	return nil
}

// UpdateAgentSession persists status, response, and error for a run.
func (s *SQLiteStore) UpdateAgentSession(ctx context.Context, session *domain.AgentSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `
	UPDATE agent_sessions SET status = ?, response = ?, error = ?, updated_at = ?
	WHERE session_id = ?`

	err := s.execWithRetry(ctx, query,
		string(session.Status), session.Response, session.Error,
		time.Now().Unix(), session.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update agent session: %w", err)
	}
	return nil
}

// GetAgentSession retrieves one query run.
func (s *SQLiteStore) GetAgentSession(ctx context.Context, sessionID string) (*domain.AgentSession, error) {
	query := `
		SELECT session_id, user_id, agent_name, status, query, response, error, created_at, updated_at
		FROM agent_sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.AgentSession
	var status string
	var response, errText sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.AgentName, &status,
		&sess.Query, &response, &errText, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent session row: %w", err)
	}

	sess.Status = domain.AgentSessionStatus(status)
	sess.Response = response.String
	sess.Error = errText.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	return &sess, nil
}

// CleanupExpiredSessions removes query runs older than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// ArchiveEvent appends a business event to the archive.
func (s *SQLiteStore) ArchiveEvent(ctx context.Context, ev event.BusinessEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_archive (type, message, agent_id, timestamp, archived_at) VALUES (?, ?, ?, ?, ?)`,
		string(ev.Type), ev.Message, ev.AgentID, ev.Timestamp, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("archive event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit archived events, oldest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]event.BusinessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, message, agent_id, timestamp FROM (
			SELECT id, type, message, agent_id, timestamp
			FROM event_archive ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var events []event.BusinessEvent
	for rows.Next() {
		var ev event.BusinessEvent
		var typ string
		if err := rows.Scan(&typ, &ev.Message, &ev.AgentID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan archived event: %w", err)
		}
		ev.Type = event.BusinessType(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CleanupArchivedEvents removes archived events older than ttl.
func (s *SQLiteStore) CleanupArchivedEvents(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_archive WHERE archived_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup archived events: %w", err)
	}
	return res.RowsAffected()
}

// execWithRetry retries a write a few times on SQLite concurrency errors.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}
