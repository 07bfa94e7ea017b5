package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrAlreadyRunning means a recent lock marker exists: another
// invocation is presumed live and this one must abort, not wait.
var ErrAlreadyRunning = errors.New("another run holds the lock")

// Lock is a file-marker mutual exclusion across process invocations. A
// marker older than the staleness threshold is presumed abandoned by a
// killed run and reclaimed.
type Lock struct {
	path  string
	stale time.Duration
}

// NewLock creates a lock on the given marker path.
func NewLock(path string, stale time.Duration) *Lock {
	if stale <= 0 {
		stale = 30 * time.Minute
	}
	return &Lock{path: path, stale: stale}
}

// Acquire claims the lock, reclaiming a stale marker first.
func (l *Lock) Acquire() error {
	if info, err := os.Stat(l.path); err == nil {
		age := time.Since(info.ModTime())
		if age <= l.stale {
			return fmt.Errorf("%w: marker %s is %s old", ErrAlreadyRunning, l.path, age.Round(time.Second))
		}
		if err := os.Remove(l.path); err != nil {
			return fmt.Errorf("remove stale lock %s: %w", l.path, err)
		}
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure lock dir: %w", err)
		}
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}
	return nil
}

// Release removes the marker. Safe to call regardless of how the run
// terminated.
func (l *Lock) Release() {
	os.Remove(l.path)
}
