package speclock

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/storyloop/internal/session"
)

// WaitForSpecUpdate blocks until the lock is released, returning true, or
// until timeout elapses, returning false. It returns ctx.Err() if ctx ends
// first.
//
// The lock is re-read every poll interval. For file-backed stores a
// directory watch also triggers an early re-read when the lock file
// changes; the poll remains authoritative.
func (l *Lock) WaitForSpecUpdate(ctx context.Context, timeout time.Duration) (bool, error) {
	if !l.IsLocked(ctx) {
		return true, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	events, closeWatch := l.watch()
	defer closeWatch()

	l.logger.Info("waiting for spec update", "timeout", timeout.String(), "poll", l.poll.String())

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			l.logger.Warn("timed out waiting for spec update", "timeout", timeout.String())
			return false, nil
		case <-ticker.C:
		case <-events:
		}

		if !l.IsLocked(ctx) {
			return true, nil
		}
	}
}

// watch returns a channel that fires when the lock file changes. Stores
// without a file per key get a nil channel, which never fires.
func (l *Lock) watch() (<-chan struct{}, func()) {
	resolver, ok := l.store.(session.PathResolver)
	if !ok {
		return nil, func() {}
	}
	path := resolver.Path(LockKey)
	if path == "" {
		return nil, func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Debug("fsnotify unavailable, polling only", "error", err)
		return nil, func() {}
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		l.logger.Debug("cannot watch state dir, polling only", "error", err)
		return nil, func() {}
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		name := filepath.Base(path)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, func() {
		_ = watcher.Close()
		<-done
	}
}
