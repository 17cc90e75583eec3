// Package db provides the client-resident SQLite store for khetbook.
//
// One database file holds everything that must survive a restart:
//   - records:       latest known snapshot of domain records (keyed by id)
//   - kv:            singleton cached values such as the user profile
//   - mutations:     the pending write log, ordered by an autoincrement qid
//   - cache_entries: responses kept by the request-interception cache
//
// The database runs in embedded mode through ncruces/go-sqlite3 with WAL
// journaling so readers never block the single writer.
//
// A Store is owned by the host application: build it once with New (or
// Open), hand the pointer to the sync engine and the write path, and Close
// it on shutdown. The connection is opened lazily by the first operation;
// concurrent first callers wait for the same open instead of racing a
// second one.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"
)

// timeFormat is fixed width so stored timestamps compare correctly as text.
// time.RFC3339Nano trims trailing zeros and does not.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite handle shared by the local store, the mutation
// queue and the cache layer.
type Store struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *sql.DB
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal storage diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store for the database file at path without opening it.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a Store and opens it eagerly.
//
// The caller MUST call Close() when done to ensure WAL is checkpointed.
//
// Example:
//
//	store, err := db.Open(ctx, ".khetbook/offline.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := New(path, opts...)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the connection and creates the schema if that has not
// happened yet. It is safe to call more than once.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db(ctx)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// db returns the shared handle, opening it on first use. A failed open is
// not cached: the next caller tries again.
func (s *Store) db(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &StorageError{Op: "open store", Err: ErrClosed}
	}
	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := openConn(ctx, s.path)
	if err != nil {
		return nil, &StorageError{Op: "open store", Err: err}
	}
	if err := initSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, &StorageError{Op: "initialize schema", Err: err}
	}

	s.logger.Debug().Str("path", s.path).Msg("offline store opened")
	s.conn = conn
	return conn, nil
}

func openConn(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets
	// them, not just the first one.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(full)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return conn, nil
}

func initSchema(ctx context.Context, conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		temp INTEGER NOT NULL DEFAULT 0,
		queued INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,  -- JSON object without _id
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL  -- JSON
	);

	-- AUTOINCREMENT keeps qids monotonic even after the queue is cleared
	CREATE TABLE IF NOT EXISTS mutations (
		qid INTEGER PRIMARY KEY AUTOINCREMENT,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		payload TEXT,
		label TEXT NOT NULL DEFAULT '',
		effect TEXT,
		inserted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mutations_inserted ON mutations(inserted_at);

	CREATE TABLE IF NOT EXISTS cache_namespaces (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		meta BLOB NOT NULL,
		body BLOB,
		stored_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key),
		FOREIGN KEY (namespace) REFERENCES cache_namespaces(name) ON DELETE CASCADE
	);
	`

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection. A Store cannot be
// reopened after Close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn().Err(err).Msg("failed to checkpoint WAL")
	}

	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction and commits it. Any failure rolls back
// and is reported as a StorageError for op.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	conn, err := s.db(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return nil
}

// exec runs a single statement outside an explicit transaction.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return res, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
