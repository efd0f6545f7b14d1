package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	defaultRecentLimit   = 50
)

// Store wraps the SQLite handle the relay keeps its presence log in.
type Store struct {
	db *sql.DB
}

// PresenceEvent is one connection's stay in the chat. LeftAt is nil while the
// connection is still open.
type PresenceEvent struct {
	ConnID   string
	Username string
	JoinedAt time.Time
	LeftAt   *time.Time
}

// ErrPresenceExists is returned when a connection id is recorded twice.
var ErrPresenceExists = errors.New("presence already recorded")

// ErrUnknownConnection is returned by RecordLeave for ids never joined.
var ErrUnknownConnection = errors.New("unknown connection")

// NewStore opens the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "rosterchat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d", path, separator, defaultBusyTimeout)
}

// Migrate creates the presence table and its index.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS presence (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conn_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			joined_at DATETIME NOT NULL,
			left_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS presence_username ON presence(username);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordJoin stores the moment a connection registered under username.
func (s *Store) RecordJoin(ctx context.Context, connID, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO presence(conn_id, username, joined_at) VALUES(?, ?, ?)`, connID, username, at.UTC())
	if err != nil {
		if isConstraintError(err) {
			return ErrPresenceExists
		}
		return err
	}
	return nil
}

// RecordLeave closes the open presence row for connID. Leaving twice keeps the
// first timestamp.
func (s *Store) RecordLeave(ctx context.Context, connID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE presence SET left_at = COALESCE(left_at, ?) WHERE conn_id = ?`, at.UTC(), connID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUnknownConnection
	}
	return nil
}

// CloseDangling marks rows left open by a previous process as left at the
// given time and reports how many it touched.
func (s *Store) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE presence SET left_at = ? WHERE left_at IS NULL`, at.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecentPresence returns up to limit events, newest first. A non-positive
// limit falls back to 50.
func (s *Store) RecentPresence(ctx context.Context, limit int) ([]PresenceEvent, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conn_id, username, joined_at, left_at
		FROM presence
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PresenceEvent
	for rows.Next() {
		var (
			event  PresenceEvent
			leftAt sql.NullTime
		)
		if err := rows.Scan(&event.ConnID, &event.Username, &event.JoinedAt, &leftAt); err != nil {
			return nil, err
		}
		if leftAt.Valid {
			left := leftAt.Time
			event.LeftAt = &left
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
