package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Iron-Ham/storyloop/internal/graph"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// Item outcome labels used in session tables.
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeInProgress = "in progress"
)

// Session writes a summary of st followed by a table of item outcomes.
func Session(w io.Writer, st *state.SessionState, now time.Time) {
	fmt.Fprintf(w, "%s %s\n", Title.Render("Session"), st.SessionID)
	fmt.Fprintf(w, "Status:    %s\n", Status(st.Status))
	fmt.Fprintf(w, "Plan:      %s\n", st.PlanPath)
	fmt.Fprintf(w, "Batch:     %d/%d\n", st.CurrentBatch, st.TotalBatches)
	fmt.Fprintf(w, "Iteration: %d/%d\n", st.Iteration, st.MaxIterations)
	fmt.Fprintf(w, "Started:   %s (%s ago)\n", st.StartedAt.Local().Format(time.DateTime), since(st.StartedAt, now))
	fmt.Fprintf(w, "Activity:  %s ago\n", since(st.LastActivity, now))

	rows := itemRows(st)
	if len(rows) == 0 {
		fmt.Fprintln(w, Muted.Render("No item outcomes recorded yet."))
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Item", "Outcome", "Error"})
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
}

func itemRows(st *state.SessionState) []table.Row {
	var rows []table.Row
	if st.InProgress != "" {
		rows = append(rows, table.Row{st.InProgress, Warning.Render(OutcomeInProgress), ""})
	}
	for _, id := range st.CompletedItems {
		rows = append(rows, table.Row{id, Success.Render(OutcomeCompleted), ""})
	}
	for _, id := range st.FailedItems {
		rows = append(rows, table.Row{id, Error.Render(OutcomeFailed), truncate(st.Errors[id], 60)})
	}
	return rows
}

// Schedule writes the batches and critical path of an analyzed plan.
func Schedule(w io.Writer, a *graph.Analysis) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Batch", "Item", "Priority", "Worker", "Depends On"})
	for _, b := range a.Batches {
		for i, item := range b.Items {
			batch := ""
			if i == 0 {
				batch = fmt.Sprintf("%d", b.Number)
				if b.Parallel {
					batch += " (parallel)"
				}
			}
			tw.AppendRow(table.Row{batch, item.ID, item.Priority, item.Worker, strings.Join(item.DependsOn, ", ")})
		}
		tw.AppendSeparator()
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d items", a.ItemCount), "", "", fmt.Sprintf("%d batches, widest %d", a.BatchCount, a.MaxBatchSize)})
	tw.Render()

	fmt.Fprintf(w, "Critical path (%d): %s\n", len(a.CriticalPath), Primary.Render(strings.Join(a.CriticalPath, " <- ")))
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Round(time.Second).String()
}

// truncate shortens s to n runes, ending in "..." when cut.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return "..."
	}
	return string(runes[:n-3]) + "..."
}
