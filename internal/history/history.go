// Package history keeps an audit trail of finished downloads in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the terminal state of a download.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one finished download.
type Entry struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	URL       string        `json:"url"`
	Kind      string        `json:"kind"`
	Title     string        `json:"title"`
	Backend   string        `json:"backend"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Bytes     int64         `json:"bytes"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS downloads (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT 'video',
    title       TEXT NOT NULL DEFAULT '',
    backend     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    bytes       INTEGER NOT NULL DEFAULT 0,
    elapsed_ms  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
CREATE INDEX IF NOT EXISTS idx_downloads_session_id ON downloads(session_id);
`

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the history database at dsn. An in-memory DSN keeps
// history for the life of the process only.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database %s: %w", dsn, err)
	}
	// A shared in-memory database vanishes with its last connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Record inserts e. CreatedAt defaults to now.
func (d *DB) Record(ctx context.Context, e Entry) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("history database not initialized")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO downloads (
			session_id, url, kind, title, backend,
			status, error, bytes, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SessionID, e.URL, e.Kind, e.Title, e.Backend,
		string(e.Status), e.Error, e.Bytes, e.Elapsed.Milliseconds(), e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("history database not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, session_id, url, kind, title, backend,
			status, error, bytes, elapsed_ms, created_at
		FROM downloads
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			status    string
			elapsedMS int64
			created   int64
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.URL, &e.Kind, &e.Title, &e.Backend,
			&status, &e.Error, &e.Bytes, &elapsedMS, &created,
		); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Status = Status(status)
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded downloads.
func (d *DB) Count(ctx context.Context) (int, error) {
	if d == nil || d.db == nil {
		return 0, fmt.Errorf("history database not initialized")
	}
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return count, nil
}
