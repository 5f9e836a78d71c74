package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/storyloop/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve session state over HTTP",
	Long: `Serve exposes the state directory over HTTP:

  GET    /state          live session state
  GET    /archive        archived sessions, newest first
  GET    /lock           spec lock state and description
  DELETE /lock           release the spec lock
  GET    /log?n=         last n progress log lines
  GET    /debug/recent   recent debug records of this process
  GET    /healthz        liveness`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s\n", e.cfg.State.Dir, e.cfg.Server.Addr)
	return api.Serve(ctx, e.cfg.Server.Addr, api.NewRouter(e.store, e.lock, e.logger), e.logger)
}
