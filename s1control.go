package s1control

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wattnpapa/S1-Control-sub000/internal/backup"
	"github.com/wattnpapa/S1-Control-sub000/internal/command"
	cfg "github.com/wattnpapa/S1-Control-sub000/internal/config"
	"github.com/wattnpapa/S1-Control-sub000/internal/history"
	"github.com/wattnpapa/S1-Control-sub000/internal/history/factory"
	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
	"github.com/wattnpapa/S1-Control-sub000/internal/presence"
	iapi "github.com/wattnpapa/S1-Control-sub000/internal/server"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Store = store.Store

type Engine = command.Engine

type Actor = command.Actor

type MoveUnit = command.MoveUnit

type MoveVehicle = command.MoveVehicle

type Presence = presence.Service

type PresenceClient = presence.Client

type BackupCoordinator = backup.Coordinator

type Snapshot = backup.Snapshot

type HistEvent = history.Event

type HistorySink = history.Sink

type Config = cfg.Config

// Sentinel errors surfaced by the command engine.
var (
	ErrNotFound = command.ErrNotFound
	ErrArchived = command.ErrArchived
)

// Open opens (and if needed creates and migrates) the shared database.
func Open(path string) (*Store, error) { return store.Open(path) }

// OpenWithRetry retries Open when the file is briefly locked by a peer.
func OpenWithRetry(path string, retries int) (*Store, error) {
	return store.OpenWithRetry(path, retries)
}

// NewEngine creates the command engine over an open store.
func NewEngine(st *Store) *Engine { return command.NewEngine(st) }

// NewPresence creates a presence service; call Start to register this
// process and begin heartbeating.
func NewPresence() *Presence { return presence.New() }

// NewBackupCoordinator creates a backup coordinator; wire SetAuthorize to
// a presence service's CanWriteBackups to gate snapshots on leadership.
func NewBackupCoordinator() *BackupCoordinator { return backup.NewCoordinator() }

// BackupNow writes a snapshot of the database at dbPath immediately.
func BackupNow(dbPath string) (string, error) { return backup.BackupNow(dbPath) }

// ListBackups lists the snapshots next to the database file, newest first.
func ListBackups(dbPath string) ([]Snapshot, error) { return backup.List(dbPath) }

// RestoreBackup replaces dbPath with the given snapshot. Close all stores
// on dbPath first and reopen them afterwards.
func RestoreBackup(dbPath, backupFile string) error { return backup.Restore(dbPath, backupFile) }

// ActiveClients lists non-stale presence rows without registering the
// caller as a client.
func ActiveClients(ctx context.Context, st *Store, staleAfter time.Duration) ([]PresenceClient, error) {
	return presence.Active(ctx, st, time.Now().UTC(), staleAfter)
}

// NewHistorySink creates an audit sink from a DSN (sqlite, postgres or
// clickhouse).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

func DefaultConfig() Config { return cfg.Default() }

// HTTPService bundles the components exposed over the control API.
type HTTPService = iapi.Service

// NewHTTPServer starts an HTTP server exposing the control API.
func NewHTTPServer(addr, basePath string, svc HTTPService) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, svc)
}

// NewHTTPHandler returns the control API as an embeddable handler.
func NewHTTPHandler(svc HTTPService, basePath string) http.Handler {
	return iapi.NewRouter(svc, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
