// Package orchestrator drives a work plan through its dependency batches,
// dispatching every item of a batch concurrently to its worker and
// recording each outcome before the next batch starts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/storyloop/internal/graph"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/plan"
	"github.com/Iron-Ham/storyloop/internal/session"
	"github.com/Iron-Ham/storyloop/internal/speclock"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// DefaultPauseTimeout bounds how long a run waits on a spec lock.
const DefaultPauseTimeout = 30 * time.Minute

// Config holds per-run settings.
type Config struct {
	// PlanPath is recorded in the session state and used to detect resumes.
	PlanPath string

	// MaxParallel caps concurrent workers within a batch (0 = unlimited).
	MaxParallel int

	// ItemTimeout bounds each worker call (0 = no limit).
	ItemTimeout time.Duration

	// PauseTimeout bounds the wait for a spec lock to clear.
	PauseTimeout time.Duration
}

// Callbacks receive progress notifications. Item callbacks run on worker
// goroutines and may be called concurrently. Any field may be nil.
type Callbacks struct {
	OnBatchStart   func(batch graph.Batch, total int)
	OnItemStart    func(item plan.WorkItem)
	OnItemComplete func(item plan.WorkItem, res Result)
	OnPause        func(info string)
}

// Orchestrator executes plans against a worker registry.
type Orchestrator struct {
	cfg       Config
	store     *state.Store
	workers   WorkerRegistry
	lock      *speclock.Lock
	logger    *logging.Logger
	callbacks Callbacks
}

// New creates an Orchestrator. lock may be nil to disable pausing; a nil
// logger discards output.
func New(cfg Config, store *state.Store, workers WorkerRegistry, lock *speclock.Lock, logger *logging.Logger) *Orchestrator {
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = DefaultPauseTimeout
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		workers: workers,
		lock:    lock,
		logger:  logger.WithPhase("orchestrator"),
	}
}

// SetCallbacks installs progress callbacks.
func (o *Orchestrator) SetCallbacks(cb Callbacks) {
	o.callbacks = cb
}

// Execute runs p to completion or until the session stops.
//
// The plan is scheduled before anything is persisted: an invalid or cyclic
// plan returns its error and creates no session. A running or paused
// session for the same plan path is resumed, skipping items that already
// have an outcome; otherwise a fresh session is started with the given
// iteration budget.
//
// Item failures never abort the run. The returned state carries the final
// status: completed when no item failed, failed when any did or the budget
// ran out, cancelled when ctx ended between batches, and paused when a
// spec lock outlived the pause timeout. Terminal sessions are archived
// before Execute returns.
func (o *Orchestrator) Execute(ctx context.Context, p *plan.WorkPlan, maxIterations int) (*state.SessionState, error) {
	batches, err := graph.Build(p)
	if err != nil {
		return nil, err
	}

	runLock := session.NewRunLock(o.store.Backend().Dir())
	if err := runLock.TryLock(); err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := runLock.Unlock(); err != nil {
			o.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	st, err := o.begin(ctx, maxIterations)
	if err != nil {
		return nil, err
	}
	logger := o.logger.WithSession(st.SessionID)
	logger.Info("executing plan",
		"project", p.Project,
		"items", len(p.Items),
		"batches", len(batches),
		"max_iterations", st.MaxIterations,
	)

	for _, batch := range batches {
		if ctx.Err() != nil {
			return o.finish(ctx, state.StatusCancelled)
		}

		st, err = o.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if st.BudgetExhausted() {
			logger.Warn("iteration budget exhausted", "iteration", st.Iteration, "batch", batch.Number)
			_ = o.store.AppendLog(fmt.Sprintf("iteration budget exhausted before batch %d", batch.Number))
			return o.finish(ctx, state.StatusFailed)
		}

		pending := pendingItems(batch, st)
		if len(pending) == 0 {
			logger.Debug("batch already resolved", "batch", batch.Number)
			continue
		}

		paused, err := o.waitForSpec(ctx, logger)
		if err != nil {
			if ctx.Err() != nil {
				return o.finish(ctx, state.StatusCancelled)
			}
			return nil, err
		}
		if paused {
			return o.store.Load(context.WithoutCancel(ctx))
		}

		if _, err := o.store.SetBatch(ctx, batch.Number, len(batches)); err != nil {
			return nil, err
		}
		if o.callbacks.OnBatchStart != nil {
			o.callbacks.OnBatchStart(batch, len(batches))
		}
		logger.Info("batch started", "batch", batch.Number, "items", len(pending), "parallel", len(pending) > 1)

		if err := o.runBatch(ctx, pending); err != nil {
			return nil, err
		}
	}

	if ctx.Err() != nil {
		return o.finish(ctx, state.StatusCancelled)
	}
	st, err = o.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(st.FailedItems) > 0 {
		return o.finish(ctx, state.StatusFailed)
	}
	return o.finish(ctx, state.StatusCompleted)
}

// begin resumes the live session for this plan or starts a new one.
func (o *Orchestrator) begin(ctx context.Context, maxIterations int) (*state.SessionState, error) {
	st, err := o.store.Load(ctx)
	switch {
	case err == nil && !st.Status.Terminal() && st.PlanPath == o.cfg.PlanPath:
		o.logger.Info("resuming session",
			"session_id", st.SessionID,
			"completed", len(st.CompletedItems),
			"failed", len(st.FailedItems),
			"iteration", st.Iteration,
		)
		_ = o.store.AppendLog(fmt.Sprintf("session %s resumed", st.SessionID))
		if o.store.HasPlanChanged(ctx) {
			o.logger.Warn("plan document changed since the session started", "plan", st.PlanPath)
			_ = o.store.AppendLog("plan document changed since the session started")
		}
		if st.Status != state.StatusRunning {
			return o.store.SetStatus(ctx, state.StatusRunning)
		}
		return st, nil
	case err == nil:
		if err := o.archiveStale(ctx, st); err != nil {
			return nil, err
		}
	case !errors.Is(err, state.ErrNoSession):
		o.logger.Warn("discarding unreadable session state", "error", err)
	}
	return o.store.Initialize(ctx, maxIterations, o.cfg.PlanPath)
}

// archiveStale archives a live session that cannot be resumed: one left in
// a terminal status, or one for a different plan, which is cancelled first.
func (o *Orchestrator) archiveStale(ctx context.Context, st *state.SessionState) error {
	if !st.Status.Terminal() {
		o.logger.Warn("cancelling session for another plan",
			"session_id", st.SessionID,
			"plan", st.PlanPath,
		)
		if _, err := o.store.SetStatus(ctx, state.StatusCancelled); err != nil {
			return err
		}
	}
	if _, err := o.store.Cleanup(ctx); err != nil {
		return fmt.Errorf("archive session %s: %w", st.SessionID, err)
	}
	return nil
}

// waitForSpec pauses while the spec lock is held. It reports true when the
// lock outlived the pause timeout and the session was left paused.
func (o *Orchestrator) waitForSpec(ctx context.Context, logger *logging.Logger) (bool, error) {
	if o.lock == nil || !o.lock.IsLocked(ctx) {
		return false, nil
	}

	info := o.lock.GetLockInfo(ctx)
	if _, err := o.store.SetStatus(ctx, state.StatusPaused); err != nil {
		return false, err
	}
	_ = o.store.AppendLog("paused: " + info)
	logger.Warn("paused on spec lock", "info", info)
	if o.callbacks.OnPause != nil {
		o.callbacks.OnPause(info)
	}

	released, err := o.lock.WaitForSpecUpdate(ctx, o.cfg.PauseTimeout)
	if err != nil {
		return false, err
	}
	if !released {
		_ = o.store.AppendLog(fmt.Sprintf("spec lock still held after %s, leaving session paused", o.cfg.PauseTimeout))
		return true, nil
	}

	if _, err := o.store.SetStatus(ctx, state.StatusRunning); err != nil {
		return false, err
	}
	logger.Info("spec lock released, resuming")
	return false, nil
}

// runBatch dispatches items concurrently and waits for all of them. Only
// persistence failures are returned; item failures are recorded.
func (o *Orchestrator) runBatch(ctx context.Context, items []plan.WorkItem) error {
	base := pool.New()
	if o.cfg.MaxParallel > 0 {
		base = base.WithMaxGoroutines(o.cfg.MaxParallel)
	}
	p := base.WithErrors()

	for _, item := range items {
		item := item
		p.Go(func() error {
			return o.runItem(ctx, item)
		})
	}
	return p.Wait()
}

func (o *Orchestrator) runItem(ctx context.Context, item plan.WorkItem) error {
	logger := o.logger.WithItem(item.ID)
	// Outcomes are recorded even if the run is being cancelled.
	persistCtx := context.WithoutCancel(ctx)

	if _, err := o.store.SetInProgress(persistCtx, item.ID); err != nil {
		return fmt.Errorf("mark %s in progress: %w", item.ID, err)
	}
	if o.callbacks.OnItemStart != nil {
		o.callbacks.OnItemStart(item)
	}
	logger.Info("item started", "worker", item.Worker)

	start := time.Now()
	res := o.invoke(ctx, item)
	if res.Success {
		logger.Info("item completed", "duration", time.Since(start).String())
	} else {
		logger.Warn("item failed", "duration", time.Since(start).String(), "error", res.Error)
	}

	if _, err := o.store.MarkStoryResult(persistCtx, item.ID, res.Success, res.Error); err != nil {
		return fmt.Errorf("record %s: %w", item.ID, err)
	}
	if o.callbacks.OnItemComplete != nil {
		o.callbacks.OnItemComplete(item, res)
	}
	return nil
}

// invoke resolves and calls the item's worker, folding errors, panics and
// timeouts into a failed Result.
func (o *Orchestrator) invoke(ctx context.Context, item plan.WorkItem) Result {
	w, ok := o.workers.Worker(item.Worker)
	if !ok {
		return Result{Error: fmt.Sprintf("no worker registered for %q", item.Worker)}
	}

	if o.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ItemTimeout)
		defer cancel()
	}

	var (
		res Result
		err error
	)
	if r := panics.Try(func() { res, err = w.Execute(ctx, item) }); r != nil {
		return Result{Error: fmt.Sprintf("worker panicked: %v", r.Value)}
	}

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && o.cfg.ItemTimeout > 0:
		return Result{Output: res.Output, Error: fmt.Sprintf("timed out after %s", o.cfg.ItemTimeout)}
	case err != nil:
		return Result{Output: res.Output, Error: err.Error()}
	case !res.Success && res.Error == "":
		res.Error = "worker reported failure"
	}
	return res
}

// finish writes the final status and archives terminal sessions.
func (o *Orchestrator) finish(ctx context.Context, status state.Status) (*state.SessionState, error) {
	ctx = context.WithoutCancel(ctx)

	st, err := o.store.SetStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	o.logger.Info("session finished",
		"session_id", st.SessionID,
		"status", string(status),
		"completed", len(st.CompletedItems),
		"failed", len(st.FailedItems),
		"iteration", st.Iteration,
	)

	if status.Terminal() {
		if _, err := o.store.Cleanup(ctx); err != nil {
			o.logger.Error("cleanup failed", "session_id", st.SessionID, "error", err)
		}
	}
	return st, nil
}

func pendingItems(batch graph.Batch, st *state.SessionState) []plan.WorkItem {
	var pending []plan.WorkItem
	for _, item := range batch.Items {
		if !st.IsResolved(item.ID) {
			pending = append(pending, item)
		}
	}
	return pending
}
