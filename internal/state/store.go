// Package state persists the durable record of an execution session: its
// SessionState, the original request, an append-only progress log, and the
// archive of finished sessions.
//
// The record lives in a [session.Backend] so it can be held either as a
// file tree or in an embedded database; the progress log is always a plain
// text file in the backend's directory.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/plan"
	"github.com/Iron-Ham/storyloop/internal/session"
)

// Keys within the backend.
const (
	StateKey      = "state.json"
	RequestKey    = "request.json"
	ArchivePrefix = "archive/"
)

var (
	// ErrNoSession is returned when no session state has been persisted.
	ErrNoSession = errors.New("no session")

	// ErrNoRequest is returned when no original request has been persisted.
	ErrNoRequest = errors.New("no request")

	// ErrPlanNotFound is returned by Initialize when the plan file is missing.
	ErrPlanNotFound = errors.New("plan file not found")

	// ErrNotTerminal is returned by Cleanup for sessions still in flight.
	ErrNotTerminal = errors.New("session is not in a terminal status")

	// ErrCorruptState is returned when persisted state cannot be decoded.
	ErrCorruptState = errors.New("session state corrupted")
)

// Options tunes retention during cleanup.
type Options struct {
	// LogRetentionLines is how many progress log lines survive cleanup.
	LogRetentionLines int
	// ArchiveKeep is the maximum number of archived sessions kept.
	ArchiveKeep int
	// ArchiveMaxAge discards archives older than this.
	ArchiveMaxAge time.Duration
}

// DefaultOptions returns the standard retention settings.
func DefaultOptions() Options {
	return Options{
		LogRetentionLines: 500,
		ArchiveKeep:       10,
		ArchiveMaxAge:     7 * 24 * time.Hour,
	}
}

// Store reads and writes session state. All mutations are serialized by an
// internal mutex; a single Store should own a state directory per process.
type Store struct {
	backend session.Backend
	opts    Options
	logger  *logging.Logger
	now     func() time.Time

	mu    sync.Mutex
	logMu sync.Mutex
}

// New creates a Store over backend. Zero-valued options fall back to
// DefaultOptions; a nil logger discards output.
func New(backend session.Backend, opts Options, logger *logging.Logger) *Store {
	def := DefaultOptions()
	if opts.LogRetentionLines <= 0 {
		opts.LogRetentionLines = def.LogRetentionLines
	}
	if opts.ArchiveKeep <= 0 {
		opts.ArchiveKeep = def.ArchiveKeep
	}
	if opts.ArchiveMaxAge <= 0 {
		opts.ArchiveMaxAge = def.ArchiveMaxAge
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger.WithPhase("state"),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Backend returns the underlying key-value backend.
func (s *Store) Backend() session.Backend {
	return s.backend
}

// Initialize starts a fresh session for the plan at planPath, replacing any
// previous live state. Nothing is written when the plan file is missing.
func (s *Store) Initialize(ctx context.Context, maxIterations int, planPath string) (*SessionState, error) {
	if _, err := os.Stat(planPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planPath)
		}
		return nil, fmt.Errorf("stat plan: %w", err)
	}

	hash, err := plan.HashFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("hash plan: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	st := &SessionState{
		SessionID:      uuid.NewString(),
		StartedAt:      now,
		MaxIterations:  maxIterations,
		CompletedItems: []string{},
		FailedItems:    []string{},
		Status:         StatusRunning,
		LastActivity:   now,
		PlanPath:       planPath,
		PlanHash:       hash,
	}
	if err := s.save(ctx, st); err != nil {
		return nil, err
	}

	s.logger.Info("session initialized",
		"session_id", st.SessionID,
		"plan_path", planPath,
		"max_iterations", maxIterations,
	)
	s.appendLog(fmt.Sprintf("session %s started: plan=%s max_iterations=%d", st.SessionID, planPath, maxIterations))
	return st.Clone(), nil
}

// Load returns the persisted state, or ErrNoSession.
func (s *Store) Load(ctx context.Context) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save atomically replaces the persisted state.
func (s *Store) Save(ctx context.Context, st *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, st)
}

// Update loads the state, applies fn, stamps LastActivity and saves the
// result. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(*SessionState) error) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, fn)
}

func (s *Store) update(ctx context.Context, fn func(*SessionState) error) (*SessionState, error) {
	st, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	st.LastActivity = s.now().UTC()
	if err := s.save(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

const (
	// MaxErrorBytes bounds the failure text kept per item in the state.
	MaxErrorBytes    = 8 << 10
	maxLogErrorBytes = 512
)

// MarkStoryResult records the outcome of one item. The item ends up in
// exactly one of the completed or failed lists no matter how often it is
// reported; the iteration counter advances on every call.
func (s *Store) MarkStoryResult(ctx context.Context, id string, success bool, errText string) (*SessionState, error) {
	st, err := s.Update(ctx, func(st *SessionState) error {
		if success {
			st.FailedItems = remove(st.FailedItems, id)
			st.CompletedItems = appendUnique(st.CompletedItems, id)
			delete(st.Errors, id)
		} else {
			st.CompletedItems = remove(st.CompletedItems, id)
			st.FailedItems = appendUnique(st.FailedItems, id)
			if errText != "" {
				if st.Errors == nil {
					st.Errors = make(map[string]string)
				}
				st.Errors[id] = clip(errText, MaxErrorBytes)
			}
		}
		if st.InProgress == id {
			st.InProgress = ""
		}
		st.Iteration++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if success {
		s.appendLog(fmt.Sprintf("item %s completed (iteration %d/%d)", id, st.Iteration, st.MaxIterations))
	} else {
		s.appendLog(fmt.Sprintf("item %s failed (iteration %d/%d): %s", id, st.Iteration, st.MaxIterations, clip(errText, maxLogErrorBytes)))
	}
	return st, nil
}

// SetStatus changes the session status, logging the transition.
func (s *Store) SetStatus(ctx context.Context, status Status) (*SessionState, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	var prev Status
	st, err := s.Update(ctx, func(st *SessionState) error {
		prev = st.Status
		st.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if prev != status {
		s.logger.Info("status changed", "session_id", st.SessionID, "from", string(prev), "to", string(status))
		s.appendLog(fmt.Sprintf("status %s -> %s", prev, status))
	}
	return st, nil
}

// SetInProgress records the item currently being dispatched.
func (s *Store) SetInProgress(ctx context.Context, id string) (*SessionState, error) {
	return s.Update(ctx, func(st *SessionState) error {
		st.InProgress = id
		return nil
	})
}

// SetBatch records the batch being executed.
func (s *Store) SetBatch(ctx context.Context, current, total int) (*SessionState, error) {
	st, err := s.Update(ctx, func(st *SessionState) error {
		st.CurrentBatch = current
		st.TotalBatches = total
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.appendLog(fmt.Sprintf("batch %d/%d started", current, total))
	return st, nil
}

// SaveRequest persists the original request for later continuation.
func (s *Store) SaveRequest(ctx context.Context, req Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := s.backend.Save(ctx, RequestKey, data); err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

// LoadRequest returns the persisted request, or ErrNoRequest.
func (s *Store) LoadRequest(ctx context.Context) (*Request, error) {
	data, err := s.backend.Load(ctx, RequestKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNoRequest
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrCorruptState, err)
	}
	return &req, nil
}

// ValidatePlanExists reports whether the plan file referenced by the
// current session is still present. Never fails.
func (s *Store) ValidatePlanExists(ctx context.Context) bool {
	st, err := s.Load(ctx)
	if err != nil || st.PlanPath == "" {
		return false
	}
	_, err = os.Stat(st.PlanPath)
	return err == nil
}

// HasPlanChanged reports whether the plan file's contents differ from the
// hash recorded at initialization. Sessions without a recorded hash, or
// whose plan cannot be read, report false.
func (s *Store) HasPlanChanged(ctx context.Context) bool {
	st, err := s.Load(ctx)
	if err != nil || st.PlanHash == "" {
		return false
	}
	hash, err := plan.HashFile(st.PlanPath)
	if err != nil {
		return false
	}
	return hash != st.PlanHash
}

func (s *Store) load(ctx context.Context) (*SessionState, error) {
	data, err := s.backend.Load(ctx, StateKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeState(data)
}

func decodeState(data []byte) (*SessionState, error) {
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &st, nil
}

func (s *Store) save(ctx context.Context, st *SessionState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.backend.Save(ctx, StateKey, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.logger.Debug("state saved", "session_id", st.SessionID, "iteration", st.Iteration, "status", string(st.Status))
	return nil
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
