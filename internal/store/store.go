package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns the open handle to the shared incident database
// (modernc.org/sqlite driver, CGO-free). Any number of processes may hold a
// Store open against the same file; only one write transaction is in flight
// engine-wide at an instant, enforced by the engine's own locking plus the
// busy timeout below. The Store never adds its own write mutex.

const (
	busyTimeoutMS  = 5000
	defaultRetries = 4
	retryBaseDelay = 250 * time.Millisecond
)

type Store struct {
	db   *sql.DB
	path string
}

// UnavailableError reports that the database could not be opened after
// exhausting busy retries. It carries the last underlying engine error.
type UnavailableError struct {
	Path string
	Last error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("database %s unavailable: %v", e.Path, e.Last)
}

func (e *UnavailableError) Unwrap() error { return e.Last }

// Open opens the database at path, creating parent directories if missing,
// applies the durability pragmas (WAL, normal sync, foreign keys, busy
// timeout) and runs any pending schema migrations.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty database path")
	}
	if dir := filepath.Dir(p); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMS),
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	s := &Store{db: db, path: p}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithRetry retries Open with linear backoff (250ms * attempt) while the
// engine reports a busy condition, e.g. a peer workstation holding a long
// lock on the shared file. Any other failure propagates immediately.
// Exhausting all attempts returns an *UnavailableError.
func OpenWithRetry(path string, retries int) (*Store, error) {
	if retries <= 0 {
		retries = defaultRetries
	}
	var last error
	for attempt := 1; attempt <= retries; attempt++ {
		s, err := Open(path)
		if err == nil {
			return s, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		last = err
		if attempt < retries {
			time.Sleep(time.Duration(attempt) * retryBaseDelay)
		}
	}
	return nil, &UnavailableError{Path: path, Last: last}
}

// isBusy reports whether err is a transient cross-process lock condition.
// modernc surfaces these as "database is locked" or SQLITE_BUSY text.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// DB exposes the underlying handle for the modules sharing this context.
// Callers must not hold transactions open beyond their own operation.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the filesystem path the store was opened with.
func (s *Store) Path() string { return s.path }

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }
