package speclock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/storyloop/internal/session"
)

func newTestLock(t *testing.T, kind string, poll time.Duration) *Lock {
	t.Helper()
	backend, err := session.Open(t.TempDir(), kind)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return New(backend, poll, nil)
}

func TestLock_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{session.BackendFile, session.BackendSQLite} {
		t.Run(kind, func(t *testing.T) {
			l := newTestLock(t, kind, 0)

			assert.False(t, l.IsLocked(ctx))
			require.NoError(t, l.ReportGap(ctx, "api", "backend", "schema lacks currency column"))
			assert.True(t, l.IsLocked(ctx))

			require.NoError(t, l.ReleaseLock(ctx))
			assert.False(t, l.IsLocked(ctx))
			require.NoError(t, l.ReleaseLock(ctx))
			assert.False(t, l.IsLocked(ctx))
		})
	}
}

func TestLock_ReportOverwrites(t *testing.T) {
	ctx := context.Background()
	l := newTestLock(t, session.BackendFile, 0)

	require.NoError(t, l.ReportGap(ctx, "a", "w1", "first gap"))
	require.NoError(t, l.ReportGap(ctx, "b", "w2", "second gap"))

	st, err := l.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, "b", st.ItemID)
	assert.Equal(t, "w2", st.WorkerID)
	assert.Equal(t, "second gap", st.Gap)
}

func TestLock_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	backend, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	writer := New(backend, 0, nil)
	reader := New(backend, 0, nil)

	require.NoError(t, writer.ReportGap(ctx, "a", "w", "gap"))
	assert.True(t, reader.IsLocked(ctx))
	require.NoError(t, reader.ReleaseLock(ctx))
	assert.False(t, writer.IsLocked(ctx))
}

func TestGetLockInfo(t *testing.T) {
	ctx := context.Background()
	l := newTestLock(t, session.BackendFile, 0)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	assert.Equal(t, "No spec lock active.", l.GetLockInfo(ctx))

	require.NoError(t, l.ReportGap(ctx, "api", "backend", "missing pagination rules"))
	now = now.Add(90 * time.Second)

	info := l.GetLockInfo(ctx)
	assert.Contains(t, info, "1m30s")
	assert.Contains(t, info, `"backend"`)
	assert.Contains(t, info, `"api"`)
	assert.Contains(t, info, "missing pagination rules")
	// No side effects.
	assert.True(t, l.IsLocked(ctx))
}

func TestIsLocked_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	backend, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, backend.Save(ctx, LockKey, []byte("garbage")))

	l := New(backend, 0, nil)
	assert.False(t, l.IsLocked(ctx))
	assert.Contains(t, l.GetLockInfo(ctx), "unreadable")
}

func TestWaitForSpecUpdate_NotLocked(t *testing.T) {
	l := newTestLock(t, session.BackendFile, time.Hour)

	ok, err := l.WaitForSpecUpdate(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForSpecUpdate_Timeout(t *testing.T) {
	ctx := context.Background()
	l := newTestLock(t, session.BackendSQLite, 10*time.Millisecond)
	require.NoError(t, l.ReportGap(ctx, "a", "w", "gap"))

	start := time.Now()
	ok, err := l.WaitForSpecUpdate(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.True(t, l.IsLocked(ctx))
}

func TestWaitForSpecUpdate_ReleasedByPoll(t *testing.T) {
	ctx := context.Background()
	l := newTestLock(t, session.BackendSQLite, 10*time.Millisecond)
	require.NoError(t, l.ReportGap(ctx, "a", "w", "gap"))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = l.ReleaseLock(ctx)
	}()

	ok, err := l.WaitForSpecUpdate(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForSpecUpdate_WakesOnFileChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := session.NewFileStore(dir)
	require.NoError(t, err)

	// Poll far slower than the test timeout: only the watch can wake it.
	l := New(backend, time.Hour, nil)
	require.NoError(t, l.ReportGap(ctx, "a", "w", "gap"))
	require.FileExists(t, filepath.Join(dir, LockKey))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = New(backend, 0, nil).ReleaseLock(ctx)
	}()

	ok, err := l.WaitForSpecUpdate(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForSpecUpdate_ContextCancelled(t *testing.T) {
	l := newTestLock(t, session.BackendFile, time.Hour)
	require.NoError(t, l.ReportGap(context.Background(), "a", "w", "gap"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := l.WaitForSpecUpdate(ctx, time.Hour)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
