package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// RunLockFileName is the lock file created inside the state directory.
const RunLockFileName = "run.lock"

// RunLock provides cross-process mutual exclusion over a state directory
// using flock(2). The kernel drops the lock when the holder exits, so a
// crashed run never leaves a stale lock behind.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock creates a RunLock for the given state directory.
func NewRunLock(dir string) *RunLock {
	return &RunLock{path: filepath.Join(dir, RunLockFileName)}
}

// TryLock acquires the lock without blocking. If another process holds it,
// the returned error wraps ErrAlreadyLocked and names the holder's PID when
// known.
func (l *RunLock) TryLock() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid := l.holderPID(); pid > 0 {
				return fmt.Errorf("%w: held by PID %d", ErrAlreadyLocked, pid)
			}
			return ErrAlreadyLocked
		}
		return fmt.Errorf("flock: %w", err)
	}

	// Record our PID for diagnostics; the flock itself is the lock.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	l.file = f
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *RunLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("funlock: %w", err)
	}
	return closeErr
}

func (l *RunLock) holderPID() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
