package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdconfig "github.com/Iron-Ham/storyloop/internal/cmd/config"
	"github.com/Iron-Ham/storyloop/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "storyloop",
	Short: "Dependency-aware work item scheduler",
	Long: `Storyloop executes a plan of work items in dependency order. Items
without unmet dependencies run concurrently in batches; progress is
persisted after every item so an interrupted session can be resumed or
continued by its host.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./.storyloop/config.yaml or $HOME/.config/storyloop/config.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "state directory (overrides state.dir)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("state.dir", rootCmd.PersistentFlags().Lookup("state-dir"))

	rootCmd.AddCommand(runCmd, statusCmd, continueCmd, planCmd, lockCmd, cleanupCmd, serveCmd)
	cmdconfig.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ProjectConfigDir)
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// e.g. STORYLOOP_RUN_MAX_ITERATIONS for run.max_iterations
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
