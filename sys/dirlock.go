package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("directory is locked by another process")

// LockFileName is created inside a locked directory.
const LockFileName = "LOCK"

// DirLock is an advisory, process-exclusive lock on a directory.
type DirLock struct {
	f *os.File
}

// LockDir takes an exclusive lock on dir, retrying until timeout elapses.
func LockDir(dir string, timeout time.Duration) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = tryLock(f)
		if err == nil {
			return &DirLock{f: f}, nil
		}
		if !errors.Is(err, ErrLocked) || time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", dir, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Release drops the lock. The lock file is left in place.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
