package state

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
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, kind string) (*Store, *fakeClock) {
	t.Helper()
	backend, err := session.Open(t.TempDir(), kind)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	s := New(backend, Options{}, nil)
	s.SetClock(clock.Now)
	return s, clock
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{session.BackendFile, session.BackendSQLite} {
		t.Run(kind, func(t *testing.T) {
			s, clock := newTestStore(t, kind)
			planPath := writePlan(t, "project: p\n")

			st, err := s.Initialize(ctx, 25, planPath)
			require.NoError(t, err)

			assert.NotEmpty(t, st.SessionID)
			assert.Equal(t, StatusRunning, st.Status)
			assert.Equal(t, 25, st.MaxIterations)
			assert.Zero(t, st.Iteration)
			assert.Equal(t, planPath, st.PlanPath)
			assert.Len(t, st.PlanHash, 64)
			assert.Equal(t, clock.Now(), st.StartedAt)
			assert.Empty(t, st.CompletedItems)
			assert.Empty(t, st.FailedItems)

			loaded, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, st.SessionID, loaded.SessionID)

			lines, err := s.ReadLog(0)
			require.NoError(t, err)
			require.Len(t, lines, 1)
			assert.True(t, strings.HasPrefix(lines[0], "2026-03-14T09:00:00Z session "), lines[0])
		})
	}
}

func TestInitialize_MissingPlan(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)

	_, err := s.Initialize(ctx, 10, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestInitialize_NewSessionID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	planPath := writePlan(t, "x")

	a, err := s.Initialize(ctx, 10, planPath)
	require.NoError(t, err)
	b, err := s.Initialize(ctx, 10, planPath)
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestLoad_Corrupt(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)

	require.NoError(t, s.Backend().Save(ctx, StateKey, []byte("{not json")))
	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestMarkStoryResult_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	_, err = s.MarkStoryResult(ctx, "a", true, "")
	require.NoError(t, err)
	st, err := s.MarkStoryResult(ctx, "a", true, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, st.CompletedItems)
	assert.Empty(t, st.FailedItems)
	assert.Equal(t, 2, st.Iteration)

	_, err = s.MarkStoryResult(ctx, "b", false, "boom")
	require.NoError(t, err)
	st, err = s.MarkStoryResult(ctx, "b", false, "boom again")
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, st.FailedItems)
	assert.Equal(t, 4, st.Iteration)
	assert.Equal(t, "boom again", st.Errors["b"])
}

func TestMarkStoryResult_NeverInBothLists(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	_, err = s.MarkStoryResult(ctx, "a", false, "first try")
	require.NoError(t, err)
	st, err := s.MarkStoryResult(ctx, "a", true, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, st.CompletedItems)
	assert.Empty(t, st.FailedItems)
	assert.NotContains(t, st.Errors, "a")
}

func TestMarkStoryResult_ClearsInProgressAndStampsActivity(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	_, err = s.SetInProgress(ctx, "a")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	st, err := s.MarkStoryResult(ctx, "a", true, "")
	require.NoError(t, err)
	assert.Empty(t, st.InProgress)
	assert.Equal(t, clock.Now(), st.LastActivity)

	_, err = s.SetInProgress(ctx, "b")
	require.NoError(t, err)
	st, err = s.MarkStoryResult(ctx, "c", true, "")
	require.NoError(t, err)
	assert.Equal(t, "b", st.InProgress)
}

func TestMarkStoryResult_NoSession(t *testing.T) {
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.MarkStoryResult(context.Background(), "a", true, "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	st, err := s.SetStatus(ctx, StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, st.Status)

	_, err = s.SetStatus(ctx, Status("bogus"))
	assert.Error(t, err)

	lines, err := s.ReadLog(1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "status running -> paused")
}

func TestSetBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	st, err := s.SetBatch(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentBatch)
	assert.Equal(t, 5, st.TotalBatches)
}

func TestUpdate_ErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	_, err = s.Update(ctx, func(st *SessionState) error {
		st.Iteration = 99
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Iteration)
}

func TestRequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, session.BackendSQLite)

	_, err := s.LoadRequest(ctx)
	assert.ErrorIs(t, err, ErrNoRequest)

	require.NoError(t, s.SaveRequest(ctx, NewRequest(`{"goal":"ship invoices"}`, clock.Now())))
	req, err := s.LoadRequest(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"goal":"ship invoices"}`, string(req.Data))
	assert.Empty(t, req.Text)

	require.NoError(t, s.SaveRequest(ctx, NewRequest("build the billing module", clock.Now())))
	req, err = s.LoadRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build the billing module", req.Text)
	assert.Nil(t, req.Data)
}

func TestNewRequest_MalformedJSONIsText(t *testing.T) {
	req := NewRequest("{not json", time.Now())
	assert.Equal(t, "{not json", req.Text)
	assert.Nil(t, req.Data)
}

func TestPlanChecks(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)

	assert.False(t, s.ValidatePlanExists(ctx))
	assert.False(t, s.HasPlanChanged(ctx))

	planPath := writePlan(t, "original")
	_, err := s.Initialize(ctx, 10, planPath)
	require.NoError(t, err)

	assert.True(t, s.ValidatePlanExists(ctx))
	assert.False(t, s.HasPlanChanged(ctx))

	require.NoError(t, os.WriteFile(planPath, []byte("edited"), 0644))
	assert.True(t, s.HasPlanChanged(ctx))

	require.NoError(t, os.Remove(planPath))
	assert.False(t, s.ValidatePlanExists(ctx))
	assert.False(t, s.HasPlanChanged(ctx))
}

func TestHasPlanChanged_NoHashRecorded(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, session.BackendFile)
	_, err := s.Initialize(ctx, 10, writePlan(t, "x"))
	require.NoError(t, err)

	_, err = s.Update(ctx, func(st *SessionState) error {
		st.PlanHash = ""
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.HasPlanChanged(ctx))
}

func TestReadLog(t *testing.T) {
	s, _ := newTestStore(t, session.BackendFile)

	lines, err := s.ReadLog(5)
	require.NoError(t, err)
	assert.Empty(t, lines)

	for _, msg := range []string{"one", "two\nlines", "three"} {
		require.NoError(t, s.AppendLog(msg))
	}

	lines, err = s.ReadLog(2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " two lines"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], " three"), lines[1])

	lines, err = s.ReadLog(0)
	require.NoError(t, err)
	assert.Len(t, lines, 3)
}

func TestStatus(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, st.Terminal(), st)
		assert.True(t, st.Valid(), st)
	}
	for _, st := range []Status{StatusRunning, StatusPaused} {
		assert.False(t, st.Terminal(), st)
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, Status("done").Valid())
}

func TestSessionState_Clone(t *testing.T) {
	st := &SessionState{
		CompletedItems: []string{"a"},
		FailedItems:    []string{"b"},
		Errors:         map[string]string{"b": "x"},
	}
	c := st.Clone()
	c.CompletedItems[0] = "z"
	c.Errors["b"] = "y"

	assert.Equal(t, "a", st.CompletedItems[0])
	assert.Equal(t, "x", st.Errors["b"])
	assert.True(t, st.IsCompleted("a"))
	assert.True(t, st.IsFailed("b"))
	assert.True(t, st.IsResolved("b"))
	assert.False(t, st.IsResolved("c"))

	var nilState *SessionState
	assert.Nil(t, nilState.Clone())
}
