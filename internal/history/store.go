// Package history persists sent and received lines in SQLite (WAL mode).
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Direction tags a stored row.
type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionError Direction = "error"
)

var ErrPathRequired = errors.New("history: path is required")

// Entry is one stored row.
type Entry struct {
	ID         int64     `json:"id"`
	Direction  Direction `json:"direction"`
	Target     string    `json:"target,omitempty"`
	Text       string    `json:"text"`
	Kind       string    `json:"kind,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DB wraps *sql.DB with history helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(db *DB) error {
	if _, err := db.Exec(ddlMessages); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    direction   TEXT    NOT NULL,          -- 'in' | 'out' | 'error'
    target      TEXT    NOT NULL DEFAULT '',
    text        TEXT    NOT NULL,
    kind        TEXT    NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL           -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_messages_recorded_at ON messages (recorded_at DESC);
`

// Insert stores e and returns its row id. A zero RecordedAt is set to now.
func (db *DB) Insert(ctx context.Context, e Entry) (int64, error) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO messages (direction, target, text, kind, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		string(e.Direction), e.Target, e.Text, e.Kind, e.RecordedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: insert: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit rows, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, direction, target, text, kind, recorded_at FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			dir string
			ms  int64
		)
		if err := rows.Scan(&e.ID, &dir, &e.Target, &e.Text, &e.Kind, &ms); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Direction = Direction(dir)
		e.RecordedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of stored rows with direction d, or all rows when d is empty.
func (db *DB) Count(ctx context.Context, d Direction) (int64, error) {
	var n int64
	var err error
	if d == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE direction = ?`, string(d)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}
