package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/xhad/docrag/internal/types"
)

const lockFileName = ".lock"

// dirLock is an exclusive, non-blocking lock on an index directory. It keeps
// two processes from writing the same artifacts.
type dirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newDirLock(dir string) *dirLock {
	lockPath := filepath.Join(dir, lockFileName)
	return &dirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// acquire returns types.ErrLocked when another holder has the directory.
func (l *dirLock) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return types.ErrLocked
	}

	l.locked = true
	return nil
}

// release is safe to call more than once.
func (l *dirLock) release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
