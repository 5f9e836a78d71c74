package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/graph"
	"github.com/Iron-Ham/storyloop/internal/orchestrator"
	"github.com/Iron-Ham/storyloop/internal/plan"
	"github.com/Iron-Ham/storyloop/internal/render"
	"github.com/Iron-Ham/storyloop/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run [plan]",
	Short: "Execute a plan",
	Long: `Run validates the plan, schedules it into dependency batches and
dispatches each batch to the configured workers. A running or paused
session for the same plan is resumed; items that already have an outcome
are skipped.

The plan defaults to run.plan_path (.storyloop/plan.yaml).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runMaxIterations int
	runRequest       string
)

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration budget for a new session (default run.max_iterations)")
	runCmd.Flags().StringVar(&runRequest, "request", "", "original request (text or JSON) replayed by 'storyloop continue'")
}

// ErrSessionFailed is returned when a run ends with status failed or
// cancelled, so the process exits non-zero.
var ErrSessionFailed = errors.New("session did not complete")

func runRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	path := e.planPath(args)
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runRequest != "" {
		if err := e.store.SaveRequest(ctx, state.NewRequest(runRequest, time.Now())); err != nil {
			return fmt.Errorf("save request: %w", err)
		}
	}

	maxIterations := runMaxIterations
	if maxIterations <= 0 {
		maxIterations = e.cfg.Run.MaxIterations
	}

	out := cmd.OutOrStdout()
	orch := e.newOrchestrator(path)
	orch.SetCallbacks(orchestrator.Callbacks{
		OnBatchStart: func(b graph.Batch, total int) {
			fmt.Fprintf(out, "%s %d/%d: %v\n", render.Title.Render("Batch"), b.Number, total, b.IDs())
		},
		OnItemComplete: func(item plan.WorkItem, res orchestrator.Result) {
			if res.Success {
				fmt.Fprintf(out, "  %s %s\n", render.Success.Render("✓"), item.ID)
				return
			}
			fmt.Fprintf(out, "  %s %s: %s\n", render.Error.Render("✗"), item.ID, res.Error)
		},
		OnPause: func(info string) {
			fmt.Fprintf(out, "%s %s\n", render.Warning.Render("Paused:"), info)
		},
	})

	st, err := orch.Execute(ctx, p, maxIterations)
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	render.Session(out, st, time.Now())

	switch st.Status {
	case state.StatusFailed, state.StatusCancelled:
		return fmt.Errorf("%w: %s", ErrSessionFailed, st.Status)
	}
	return nil
}
