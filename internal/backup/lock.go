package backup

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// The backup lock is a filesystem marker next to the snapshots. It exists
// only while a backup write is in flight and guarantees at most one writer
// per database path across processes, independent of leader election.

// lockMaxAge bounds how long a marker can outlive its writer. A crash mid
// backup leaves the file behind; peers break it once it is clearly
// abandoned.
const lockMaxAge = 10 * time.Minute

type lockInfo struct {
	Hostname string    `json:"hostname"`
	PID      int       `json:"pid"`
	Created  time.Time `json:"created"`
}

// acquireLock creates the lock marker. It returns false when another writer
// holds a live lock; that is the normal "skip this tick" outcome, not an
// error.
func acquireLock(path string, now time.Time) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		if !lockAbandoned(path, now) {
			return false, nil
		}
		if os.Remove(path) != nil {
			// lost the race against the holder's own release
			return false, nil
		}
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return false, nil
		}
	} else if err != nil {
		return false, err
	}

	host, _ := os.Hostname()
	data, _ := json.Marshal(lockInfo{Hostname: host, PID: os.Getpid(), Created: now.UTC()})
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return false, errors.Join(werr, cerr)
	}
	return true, nil
}

func lockAbandoned(path string, now time.Time) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.Created.IsZero() {
		// unreadable marker: judge by file age instead
		st, serr := os.Stat(path)
		if serr != nil {
			return false
		}
		return now.Sub(st.ModTime()) > lockMaxAge
	}
	return now.Sub(info.Created) > lockMaxAge
}

func releaseLock(path string) { _ = os.Remove(path) }
