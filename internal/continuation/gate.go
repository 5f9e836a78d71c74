// Package continuation decides whether an interrupted session should be
// restarted when its host process signals that it is about to exit.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// InactivityTimeout is how long a running session may go without recorded
// activity before it is considered abandoned.
const InactivityTimeout = 30 * time.Minute

// Reason explains a gate decision.
type Reason string

const (
	ReasonNoSession       Reason = "no_session"
	ReasonNotRunning      Reason = "not_running"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonInactive        Reason = "inactive"
	ReasonNoRequest       Reason = "no_request"
	ReasonContinue        Reason = "continue"
)

// Decision is the outcome of one evaluation. Request is non-nil only when
// Reason is ReasonContinue.
type Decision struct {
	Reason    Reason         `json:"reason"`
	Request   *state.Request `json:"request,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
}

// Continue reports whether the caller should re-issue the request.
func (d Decision) Continue() bool {
	return d.Reason == ReasonContinue
}

// Gate evaluates the persisted session state.
type Gate struct {
	store  *state.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewGate creates a Gate over store. A nil logger discards output.
func NewGate(store *state.Store, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Gate{
		store:  store,
		logger: logger.WithPhase("continuation"),
		now:    store.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// ShouldContinue returns the original request when the session should be
// restarted, or nil when it should not.
func (g *Gate) ShouldContinue(ctx context.Context) (*state.Request, error) {
	d, err := g.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return d.Request, nil
}

// Evaluate applies the continuation checks in order, stopping at the first
// that declines. Budget exhaustion and inactivity also fail and archive the
// session.
func (g *Gate) Evaluate(ctx context.Context) (Decision, error) {
	st, err := g.store.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNoSession) {
			return Decision{Reason: ReasonNoSession}, nil
		}
		return Decision{}, fmt.Errorf("load state: %w", err)
	}

	logger := g.logger.WithSession(st.SessionID)
	base := Decision{SessionID: st.SessionID, Iteration: st.Iteration}

	if st.Status != state.StatusRunning {
		base.Reason = ReasonNotRunning
		return base, nil
	}

	if st.BudgetExhausted() {
		logger.Warn("iteration budget exhausted", "iteration", st.Iteration, "max_iterations", st.MaxIterations)
		if err := g.fail(ctx, logger); err != nil {
			return Decision{}, err
		}
		base.Reason = ReasonBudgetExhausted
		return base, nil
	}

	if idle := g.now().Sub(st.LastActivity); idle > InactivityTimeout {
		_ = g.store.AppendLog(fmt.Sprintf("session %s timed out after %s of inactivity", st.SessionID, idle.Round(time.Second)))
		logger.Warn("session inactive", "idle", idle.String())
		if err := g.fail(ctx, logger); err != nil {
			return Decision{}, err
		}
		base.Reason = ReasonInactive
		return base, nil
	}

	req, err := g.store.LoadRequest(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNoRequest) {
			base.Reason = ReasonNoRequest
			return base, nil
		}
		return Decision{}, err
	}

	updated, err := g.store.Update(ctx, func(s *state.SessionState) error {
		s.Iteration++
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	_ = g.store.AppendLog(fmt.Sprintf("continuation %d/%d", updated.Iteration, updated.MaxIterations))
	logger.Info("continuing session", "iteration", updated.Iteration)

	return Decision{
		Reason:    ReasonContinue,
		Request:   req,
		SessionID: updated.SessionID,
		Iteration: updated.Iteration,
	}, nil
}

// fail marks the session failed and archives it. An archival error is only
// logged; the next run archives any terminal session it finds.
func (g *Gate) fail(ctx context.Context, logger *logging.Logger) error {
	if _, err := g.store.SetStatus(ctx, state.StatusFailed); err != nil {
		return err
	}
	if _, err := g.store.Cleanup(ctx); err != nil {
		logger.Warn("failed to archive session", "error", err)
	}
	return nil
}
