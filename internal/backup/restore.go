package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Snapshot describes one backup file on disk.
type Snapshot struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Restore stops the coordinator (so no backup fires mid-restore) and
// replaces dbPath with the contents of backupFile. The caller must close
// any open store on dbPath before calling this and reopen it afterwards,
// which re-runs the migration check.
func (c *Coordinator) Restore(dbPath, backupFile string) error {
	c.Stop()
	return Restore(dbPath, backupFile)
}

// Restore replaces dbPath with backupFile. WAL/SHM side files are removed
// first so the next open does not replay a stale journal against the
// restored database; the replacement itself is a copy-to-temp plus rename.
func Restore(dbPath, backupFile string) error {
	src, err := os.Open(backupFile)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	for _, side := range []string{dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(side); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", side, err)
		}
	}

	dir := filepath.Dir(dbPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(dbPath)+".restore-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("copy backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dbPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace database: %w", err)
	}
	return nil
}

// List returns the snapshots existing for dbPath, newest first. A missing
// backup directory is an empty list, not an error.
func List(dbPath string) ([]Snapshot, error) {
	dir := filepath.Join(filepath.Dir(dbPath), dirName)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(filepath.Base(dbPath)))
	out := make([]Snapshot, 0)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, base+"-") || !strings.HasSuffix(name, ".sqlite") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}
