package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// LockSuffix names the lock file kept beside each job directory.
const LockSuffix = ".lock"

// ErrDirLocked is returned when another job holds the directory.
var ErrDirLocked = errors.New("staging directory is locked by another job")

// DirLock marks a job directory as owned by a running job. The lock file
// lives beside the directory so it never ends up in the archive.
type DirLock struct {
	dir  string
	lock *flock.Flock
}

// AcquireDir creates dir if needed and takes its lock without blocking.
func AcquireDir(dir string) (*DirLock, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create staging parent: %w", err)
	}
	lock := flock.New(lockPath(dir))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire staging lock: %w", err)
	}
	if !ok {
		return nil, ErrDirLocked
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &DirLock{dir: dir, lock: lock}, nil
}

// Dir returns the locked directory.
func (l *DirLock) Dir() string {
	return l.dir
}

// Release unlocks the directory and removes the lock file.
func (l *DirLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	err := l.lock.Unlock()
	if rmErr := os.Remove(lockPath(l.dir)); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	l.lock = nil
	return err
}

// IsLocked reports whether a running job holds dir.
func IsLocked(dir string) bool {
	path := lockPath(filepath.Clean(dir))
	if _, err := os.Stat(path); err != nil {
		return false
	}
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return true
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}

func lockPath(dir string) string {
	return dir + LockSuffix
}
