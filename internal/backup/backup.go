package backup

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

const (
	DefaultInterval   = 10 * time.Second
	DefaultMinSpacing = 5 * time.Minute

	dirName  = "backup"
	lockName = ".backup.lock"
)

// ErrLocked reports that another process is writing a backup right now.
var ErrLocked = errors.New("backup already in flight")

// Coordinator periodically snapshots the live database file into a
// timestamped sibling directory. Two independent guards keep writers from
// colliding: the Authorize predicate (typically leader election) and the
// filesystem lock. Neither implies the other; both are required.
type Coordinator struct {
	interval   time.Duration
	minSpacing time.Duration
	logger     *slog.Logger
	now        func() time.Time
	authorize  func() bool

	mu   sync.Mutex
	path string // "" when stopped
	last time.Time
	quit chan struct{}
	done chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		interval:   DefaultInterval,
		minSpacing: DefaultMinSpacing,
		logger:     slog.Default(),
		now:        time.Now,
		authorize:  func() bool { return true },
	}
}

func (c *Coordinator) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetAuthorize installs the write-authorization predicate, typically
// presence.Service.CanWriteBackups. Call before Start.
func (c *Coordinator) SetAuthorize(fn func() bool) {
	if fn != nil {
		c.authorize = fn
	}
}

// SetIntervals adjusts the tick cadence and the minimum spacing between
// successful backups. Call before Start.
func (c *Coordinator) SetIntervals(interval, minSpacing time.Duration) {
	if interval > 0 {
		c.interval = interval
	}
	if minSpacing > 0 {
		c.minSpacing = minSpacing
	}
}

// Start attaches the coordinator to the store's file, fires one attempt
// immediately and arms the repeating timer. Starting an already running
// coordinator stops the previous run first.
func (c *Coordinator) Start(st *store.Store) {
	c.Stop()

	c.mu.Lock()
	c.path = st.Path()
	c.last = time.Time{}
	quit := make(chan struct{})
	done := make(chan struct{})
	c.quit, c.done = quit, done
	path := c.path
	c.mu.Unlock()

	c.attempt(path)
	go c.run(path, quit, done)
}

func (c *Coordinator) run(path string, quit, done chan struct{}) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			c.attempt(path)
		}
	}
}

// Stop cancels the timer and clears the attachment. Any in-flight attempt
// runs to completion and releases its lock via its own defer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	quit, done := c.quit, c.done
	c.quit, c.done = nil, nil
	c.path = ""
	c.last = time.Time{}
	c.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done
	}
}

// attempt runs one best-effort backup pass. Every failure is swallowed;
// backups must never crash or block the interactive application, the next
// tick simply retries.
func (c *Coordinator) attempt(path string) {
	c.mu.Lock()
	if c.path != path {
		// stale timer from a previous attachment fired late
		c.mu.Unlock()
		return
	}
	last := c.last
	c.mu.Unlock()

	if !c.authorize() {
		metrics.IncBackup("skipped_unauthorized")
		return
	}
	now := c.now().UTC()
	if !last.IsZero() && now.Sub(last) < c.minSpacing {
		metrics.IncBackup("skipped_spacing")
		return
	}

	target, err := writeSnapshot(path, now)
	if errors.Is(err, ErrLocked) {
		metrics.IncBackup("skipped_locked")
		return
	}
	if err != nil {
		c.logger.Warn("backup failed", "db", path, "error", err)
		metrics.IncBackup("failed")
		return
	}

	c.mu.Lock()
	if c.path == path {
		c.last = now
	}
	c.mu.Unlock()

	c.logger.Info("backup written", "target", target)
	metrics.IncBackup("ok")
	metrics.SetLastBackup(now)
}

// BackupNow writes one locked snapshot of dbPath immediately, bypassing the
// spacing and authorization guards. Meant for explicit user action; unlike
// the timer path, errors are surfaced.
func BackupNow(dbPath string) (string, error) {
	return writeSnapshot(dbPath, time.Now().UTC())
}

// writeSnapshot takes the cross-process lock and runs the engine's online
// backup into a timestamped file. Returns ErrLocked when another writer
// holds the lock.
func writeSnapshot(dbPath string, now time.Time) (string, error) {
	dir := filepath.Join(filepath.Dir(dbPath), dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	lockPath := filepath.Join(dir, lockName)
	ok, err := acquireLock(lockPath, now)
	if err != nil {
		return "", fmt.Errorf("acquire backup lock: %w", err)
	}
	if !ok {
		return "", ErrLocked
	}
	defer releaseLock(lockPath)

	target := filepath.Join(dir, targetName(dbPath, now))
	if err := snapshot(dbPath, target); err != nil {
		return "", err
	}
	return target, nil
}

func targetName(dbPath string, now time.Time) string {
	base := filepath.Base(dbPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s.sqlite", base, now.Format("20060102-150405"))
}

// snapshot uses VACUUM INTO, the engine's online-backup primitive, so the
// copy is a consistent snapshot even while peers keep writing to src.
func snapshot(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("backup target %s already exists", dst)
	}
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return err
	}
	if _, err := db.Exec("VACUUM INTO ?;", dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}
