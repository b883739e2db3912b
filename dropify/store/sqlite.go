package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS drops (
	session_code TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
)`

type sqliteConfig struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

// Option customises OpenSQLite.
type Option func(*sqliteConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option { return func(c *sqliteConfig) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *sqliteConfig) { c.synchronous = mode } }

// WithoutMkdirAll leaves the parent directory of the database alone.
func WithoutMkdirAll() Option { return func(c *sqliteConfig) { c.mkdirAll = false } }

// SQLite is a Store backed by a single SQLite table. Writes are last-writer-wins.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the cache database at path.
// ":memory:" gives a private, single-connection database.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	cfg := sqliteConfig{busyTimeout: 5000, synchronous: "NORMAL", mkdirAll: true}
	for _, o := range opts {
		o(&cfg)
	}

	memory := path == ":memory:"
	if cfg.mkdirAll && !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Save overwrites the record for code.
func (s *SQLite) Save(ctx context.Context, code string, drops model.Snapshot) error {
	data, err := encode(drops)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drops (session_code, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_code) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		code, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save %s: %w", code, err)
	}
	return nil
}

// Load returns the cached snapshot for code.
func (s *SQLite) Load(ctx context.Context, code string) (model.Snapshot, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM drops WHERE session_code = ?`, code).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load %s: %w", code, err)
	}
	drops, err := decode([]byte(payload))
	if err != nil {
		return nil, false, fmt.Errorf("store: load %s: %w", code, err)
	}
	return drops, true, nil
}

// UpdatedAt reports when code was last saved.
func (s *SQLite) UpdatedAt(ctx context.Context, code string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM drops WHERE session_code = ?`, code).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: updated_at %s: %w", code, err)
	}
	return time.UnixMilli(ms), true, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
