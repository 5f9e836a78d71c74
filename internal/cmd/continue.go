package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/continuation"
)

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Decide whether an interrupted session should be restarted",
	Long: `Continue is called by the host process when it is about to exit.
If the live session is still running, within its iteration budget and
recently active, the original request is printed as JSON and the session
iteration is advanced. Otherwise nothing is printed.

Both outcomes exit 0. Use --explain to see the reason on stderr.`,
	Args: cobra.NoArgs,
	RunE: runContinue,
}

var continueExplain bool

func init() {
	continueCmd.Flags().BoolVar(&continueExplain, "explain", false, "print the decision reason to stderr")
}

func runContinue(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	d, err := continuation.NewGate(e.store, e.logger).Evaluate(cmd.Context())
	if err != nil {
		return err
	}

	if continueExplain {
		fmt.Fprintf(cmd.ErrOrStderr(), "continuation: %s (session %s, iteration %d)\n", d.Reason, d.SessionID, d.Iteration)
	}
	if !d.Continue() {
		return nil
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(d.Request)
}
