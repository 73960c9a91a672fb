package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenCreatesParentDirs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "einsatz.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "einsatz.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var fk int
	if err := s.DB().QueryRow("PRAGMA foreign_keys;").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenWithRetryPropagatesNonBusyErrors(t *testing.T) {
	// Opening a directory path is a hard failure, not a busy condition, and
	// must not be retried into an UnavailableError.
	dir := t.TempDir()
	_, err := OpenWithRetry(dir, 4)
	if err == nil {
		t.Fatal("expected error opening a directory as database")
	}
	var unavail *UnavailableError
	if errors.As(err, &unavail) {
		t.Fatalf("non-busy error wrapped as UnavailableError: %v", err)
	}
}

func TestUnavailableErrorUnwrap(t *testing.T) {
	inner := errors.New("database is locked")
	err := &UnavailableError{Path: "x.sqlite", Last: inner}
	if !errors.Is(err, inner) {
		t.Error("UnavailableError should unwrap to the last engine error")
	}
}

func TestIsBusy(t *testing.T) {
	if !isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("locked error not detected as busy")
	}
	if isBusy(errors.New("no such table: units")) {
		t.Error("schema error misdetected as busy")
	}
	if isBusy(nil) {
		t.Error("nil misdetected as busy")
	}
}
