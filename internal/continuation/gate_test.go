package continuation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/storyloop/internal/session"
	"github.com/Iron-Ham/storyloop/internal/state"
)

type fixture struct {
	store *state.Store
	gate  *Gate
	now   time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, maxIterations int) *fixture {
	t.Helper()
	backend, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	f.store = state.New(backend, state.Options{}, nil)
	f.store.SetClock(f.clock)
	f.gate = NewGate(f.store, nil)

	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte("project: p"), 0644))
	_, err = f.store.Initialize(context.Background(), maxIterations, planPath)
	require.NoError(t, err)
	return f
}

func (f *fixture) saveRequest(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.SaveRequest(context.Background(), state.NewRequest("finish the plan", f.now)))
}

// archived returns the single archived session.
func (f *fixture) archived(t *testing.T) *state.SessionState {
	t.Helper()
	ctx := context.Background()
	entries, err := f.store.ListArchive(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	st, err := f.store.LoadArchive(ctx, entries[0].Key)
	require.NoError(t, err)
	return st
}

func TestEvaluate_NoSession(t *testing.T) {
	backend, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	g := NewGate(state.New(backend, state.Options{}, nil), nil)

	d, err := g.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonNoSession, d.Reason)
	assert.False(t, d.Continue())
	assert.Nil(t, d.Request)
}

func TestEvaluate_NotRunning(t *testing.T) {
	ctx := context.Background()

	for _, status := range []state.Status{state.StatusPaused, state.StatusCompleted, state.StatusFailed, state.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, 10)
			f.saveRequest(t)
			_, err := f.store.SetStatus(ctx, status)
			require.NoError(t, err)

			d, err := f.gate.Evaluate(ctx)
			require.NoError(t, err)
			assert.Equal(t, ReasonNotRunning, d.Reason)

			st, err := f.store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, status, st.Status)
		})
	}
}

func TestEvaluate_BudgetExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.saveRequest(t)

	_, err := f.store.MarkStoryResult(ctx, "a", true, "")
	require.NoError(t, err)
	_, err = f.store.MarkStoryResult(ctx, "b", true, "")
	require.NoError(t, err)

	// Activity is recent and status is running, yet the budget wins.
	req, err := f.gate.ShouldContinue(ctx)
	require.NoError(t, err)
	assert.Nil(t, req)

	// The failed session is archived, not left live for the next run to
	// overwrite.
	_, err = f.store.Load(ctx)
	assert.ErrorIs(t, err, state.ErrNoSession)
	st := f.archived(t)
	assert.Equal(t, state.StatusFailed, st.Status)
	assert.Equal(t, 2, st.Iteration)

	_, err = f.store.LoadRequest(ctx)
	assert.ErrorIs(t, err, state.ErrNoRequest)
}

func TestEvaluate_Inactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.saveRequest(t)

	f.now = f.now.Add(InactivityTimeout + time.Second)

	d, err := f.gate.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, d.Reason)
	assert.Nil(t, d.Request)

	_, err = f.store.Load(ctx)
	assert.ErrorIs(t, err, state.ErrNoSession)
	st := f.archived(t)
	assert.Equal(t, state.StatusFailed, st.Status)
	assert.Zero(t, st.Iteration)

	lines, err := f.store.ReadLog(0)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(lines, "\n"), "timed out")

	// A new session afterwards leaves the failed one in the archive.
	_, err = f.store.Initialize(ctx, 10, st.PlanPath)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, f.archived(t).SessionID)
}

func TestEvaluate_ExactlyAtTimeoutStillContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.saveRequest(t)

	f.now = f.now.Add(InactivityTimeout)

	d, err := f.gate.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonContinue, d.Reason)
}

func TestEvaluate_NoRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	d, err := f.gate.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoRequest, d.Reason)

	st, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, st.Status)
	assert.Zero(t, st.Iteration)
}

func TestEvaluate_Continue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.saveRequest(t)

	f.now = f.now.Add(5 * time.Minute)

	req, err := f.gate.ShouldContinue(ctx)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "finish the plan", req.Text)

	st, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Iteration)
	assert.Equal(t, f.now, st.LastActivity)
	assert.Equal(t, state.StatusRunning, st.Status)

	d, err := f.gate.Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, d.Continue())
	assert.Equal(t, 2, d.Iteration)
	assert.Equal(t, st.SessionID, d.SessionID)
}

func TestEvaluate_ContinuesUntilBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.saveRequest(t)

	var reasons []Reason
	for j := 0; j < 5; j++ {
		d, err := f.gate.Evaluate(ctx)
		require.NoError(t, err)
		reasons = append(reasons, d.Reason)
	}

	assert.Equal(t, []Reason{
		ReasonContinue, ReasonContinue, ReasonContinue,
		ReasonBudgetExhausted, ReasonNoSession,
	}, reasons)
}
