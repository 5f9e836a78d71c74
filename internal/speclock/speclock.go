// Package speclock implements the cooperative pause used when a worker finds
// a gap in the plan: the worker reports the gap, the orchestrator notices the
// lock before its next batch and waits until someone releases it.
//
// The lock is persisted in the shared session store so any process pointed
// at the same state directory observes it. At most one lock is outstanding;
// a new report replaces the previous one.
package speclock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/session"
)

// LockKey is the store key holding the lock record.
const LockKey = "spec-lock.json"

// DefaultPollInterval is how often WaitForSpecUpdate re-reads the lock.
const DefaultPollInterval = 5 * time.Second

// State is the persisted lock record.
type State struct {
	Locked   bool      `json:"locked"`
	ItemID   string    `json:"item_id"`
	Gap      string    `json:"gap"`
	LockedAt time.Time `json:"locked_at"`
	WorkerID string    `json:"worker_id"`
}

// Lock reads and writes the spec lock.
type Lock struct {
	store  session.Store
	logger *logging.Logger
	poll   time.Duration
	now    func() time.Time
}

// New creates a Lock over store. A non-positive poll interval selects
// DefaultPollInterval; a nil logger discards output.
func New(store session.Store, poll time.Duration, logger *logging.Logger) *Lock {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Lock{
		store:  store,
		logger: logger.WithPhase("speclock"),
		poll:   poll,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Lock) SetClock(now func() time.Time) {
	l.now = now
}

// ReportGap locks the spec on behalf of workerID, overwriting any lock
// already held.
func (l *Lock) ReportGap(ctx context.Context, itemID, workerID, description string) error {
	st := State{
		Locked:   true,
		ItemID:   itemID,
		Gap:      description,
		LockedAt: l.now().UTC(),
		WorkerID: workerID,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal spec lock: %w", err)
	}
	if err := l.store.Save(ctx, LockKey, data); err != nil {
		return fmt.Errorf("save spec lock: %w", err)
	}

	l.logger.Warn("spec gap reported",
		"item_id", itemID,
		"worker_id", workerID,
		"gap", description,
	)
	return nil
}

// State returns the current lock record. An absent record is an unlocked
// zero State.
func (l *Lock) State(ctx context.Context) (*State, error) {
	data, err := l.store.Load(ctx, LockKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("load spec lock: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode spec lock: %w", err)
	}
	return &st, nil
}

// IsLocked reports whether a lock is outstanding. Read errors are logged
// and treated as unlocked.
func (l *Lock) IsLocked(ctx context.Context) bool {
	st, err := l.State(ctx)
	if err != nil {
		l.logger.Warn("failed to read spec lock", "error", err)
		return false
	}
	return st.Locked
}

// ReleaseLock clears the lock. Releasing an absent lock is a no-op.
func (l *Lock) ReleaseLock(ctx context.Context) error {
	err := l.store.Delete(ctx, LockKey)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("release spec lock: %w", err)
	}
	if err == nil {
		l.logger.Info("spec lock released")
	}
	return nil
}

// GetLockInfo describes the lock for humans. It has no side effects.
func (l *Lock) GetLockInfo(ctx context.Context) string {
	st, err := l.State(ctx)
	if err != nil {
		return fmt.Sprintf("Spec lock unreadable: %v", err)
	}
	if !st.Locked {
		return "No spec lock active."
	}

	elapsed := l.now().Sub(st.LockedAt).Round(time.Second)
	return fmt.Sprintf("Spec locked for %s by worker %q on item %q.\nGap: %s",
		elapsed, st.WorkerID, st.ItemID, st.Gap)
}
