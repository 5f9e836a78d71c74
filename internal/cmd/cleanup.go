package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/state"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Archive a finished session",
	Long: `Cleanup archives a completed, failed or cancelled session, trims the
progress log and prunes old archives. Runs do this automatically; the
command covers sessions finished by 'storyloop continue'.

Running or paused sessions are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	out := cmd.OutOrStdout()
	report, err := e.store.Cleanup(cmd.Context())
	switch {
	case errors.Is(err, state.ErrNoSession):
		fmt.Fprintln(out, "No active session")
		return nil
	case errors.Is(err, state.ErrNotTerminal):
		return fmt.Errorf("%w; stop the run or wait for it to finish", err)
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "Archived session %s (%s) as %s\n", report.SessionID, report.Status, report.ArchiveKey)
	if report.LogLinesTrimmed > 0 {
		fmt.Fprintf(out, "Trimmed %d progress log lines\n", report.LogLinesTrimmed)
	}
	for _, key := range report.Pruned {
		fmt.Fprintf(out, "Pruned %s\n", key)
	}
	return nil
}
