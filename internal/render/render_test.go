package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/storyloop/internal/graph"
	"github.com/Iron-Ham/storyloop/internal/plan"
	"github.com/Iron-Ham/storyloop/internal/state"
)

func TestSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &state.SessionState{
		SessionID:      "abc-123",
		StartedAt:      now.Add(-10 * time.Minute),
		LastActivity:   now.Add(-time.Minute),
		Iteration:      3,
		MaxIterations:  20,
		CurrentBatch:   2,
		TotalBatches:   3,
		Status:         state.StatusRunning,
		PlanPath:       "plan.yaml",
		CompletedItems: []string{"A", "B"},
		FailedItems:    []string{"C"},
		InProgress:     "D",
		Errors:         map[string]string{"C": strings.Repeat("x", 100)},
	}

	var buf bytes.Buffer
	Session(&buf, st, now)
	out := buf.String()

	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "Batch:     2/3")
	assert.Contains(t, out, "Iteration: 3/20")
	assert.Contains(t, out, "Activity:  1m0s ago")
	for _, id := range []string{"A", "B", "C", "D"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, strings.Repeat("x", 57)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 58))
}

func TestSession_NoOutcomes(t *testing.T) {
	var buf bytes.Buffer
	Session(&buf, &state.SessionState{SessionID: "s", Status: state.StatusRunning}, time.Now())
	assert.Contains(t, buf.String(), "No item outcomes recorded yet.")
	assert.Contains(t, buf.String(), "Started:   ")
}

func TestSchedule(t *testing.T) {
	p := &plan.WorkPlan{Project: "p", Branch: "b", Items: []plan.WorkItem{
		{ID: "A", Title: "a", Description: "a", AcceptanceCriteria: []string{"a"}, Priority: 5},
		{ID: "B", Title: "b", Description: "b", AcceptanceCriteria: []string{"b"}, Priority: 8},
		{ID: "C", Title: "c", Description: "c", AcceptanceCriteria: []string{"c"}, Priority: 3, DependsOn: []string{"A", "B"}},
	}}
	a, err := graph.Analyze(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	Schedule(&buf, a)
	out := buf.String()

	assert.Contains(t, out, "1 (parallel)")
	assert.Contains(t, out, "3 items")
	assert.Contains(t, out, "2 batches, widest 2")
	assert.Contains(t, out, "Critical path (2):")
	assert.Contains(t, out, "A, B")
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, ErrorColor, StatusColor(state.StatusFailed))
	assert.Equal(t, BlueColor, StatusColor(state.StatusPaused))
	assert.Equal(t, MutedColor, StatusColor(state.Status("unknown")))
	assert.Contains(t, Status(state.StatusCompleted), "completed")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "line one line two", truncate("line one\nline two", 40))
	assert.Equal(t, "héllo ...", truncate("héllo wörld", 9))
	assert.Equal(t, "...", truncate("abcdef", 2))
}
