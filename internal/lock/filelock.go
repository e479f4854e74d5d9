// Package lock serializes writers of a file through an flock(2)-held sidecar.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another process already holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// FileLock is an exclusive, non-blocking lock on a lock file that records
// the owner's PID. The lock lives as long as the descriptor stays open.
type FileLock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at lockPath, creating parent directories as needed.
func Acquire(lockPath string) (*FileLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (pid %s)", ErrHeld, Owner(lockPath))
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &FileLock{path: lockPath, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *FileLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return nil
}

// Owner returns the PID recorded in lockPath, or "unknown".
func Owner(lockPath string) string {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return "unknown"
	}
	pid := strings.TrimSpace(string(b))
	if pid == "" {
		return "unknown"
	}
	return pid
}

// Release unlocks the lock file. The file stays in place so every
// contender keeps locking the same inode.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
