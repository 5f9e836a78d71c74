package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/render"
	"github.com/Iron-Ham/storyloop/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current session status",
	Long: `Display the live session: status, batch, iteration budget and the
outcome of every item so far. When no session is live the most recently
archived one is shown instead.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusJSON bool
	statusLog  int
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the session state as JSON")
	statusCmd.Flags().IntVar(&statusLog, "log", 0, "also print the last n progress log lines")
}

type statusOutput struct {
	Archived bool                `json:"archived"`
	State    *state.SessionState `json:"state"`
	Log      []string            `json:"log,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	result := statusOutput{}
	result.State, err = e.store.Load(ctx)
	if errors.Is(err, state.ErrNoSession) {
		result.Archived = true
		result.State, err = latestArchived(cmd, e)
	}
	if err != nil {
		return err
	}
	if !result.Archived {
		result.Warnings = planDrift(cmd, e)
	}

	if statusLog > 0 {
		if result.Log, err = e.store.ReadLog(statusLog); err != nil {
			return err
		}
	}

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.State == nil {
		fmt.Fprintln(out, "No active session")
		return nil
	}
	if result.Archived {
		fmt.Fprintln(out, render.Muted.Render("No active session; showing the last archived one."))
	}
	render.Session(out, result.State, time.Now())
	for _, w := range result.Warnings {
		fmt.Fprintln(out, render.Warning.Render("Warning: "+w))
	}

	if len(result.Log) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, render.Title.Render("Progress log"))
		for _, line := range result.Log {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

// latestArchived returns the newest archived session, or nil when there is
// none.
func latestArchived(cmd *cobra.Command, e *env) (*state.SessionState, error) {
	entries, err := e.store.ListArchive(cmd.Context())
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return e.store.LoadArchive(cmd.Context(), entries[0].Key)
}

// planDrift reports a live session's plan document going missing or
// changing after the session started.
func planDrift(cmd *cobra.Command, e *env) []string {
	switch {
	case !e.store.ValidatePlanExists(cmd.Context()):
		return []string{"plan document no longer exists"}
	case e.store.HasPlanChanged(cmd.Context()):
		return []string{"plan document changed since the session started"}
	}
	return nil
}
