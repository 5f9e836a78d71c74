// Package config provides CLI commands for managing storyloop configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/storyloop/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify storyloop configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Valid keys:
  state.dir                     - State directory
  state.backend                 - State backend: file, sqlite
  state.log_retention_lines     - Progress log lines kept after cleanup
  state.archive_keep            - Archived sessions kept (0 = unlimited)
  state.archive_max_age_hours   - Archive age limit in hours (0 = never)
  run.plan_path                 - Default plan document
  run.max_iterations            - Iteration budget for new sessions
  run.max_parallel              - Concurrent workers per batch (0 = unlimited)
  run.item_timeout_seconds      - Per-item timeout (0 = none)
  run.pause_timeout_seconds     - Spec lock wait limit
  speclock.poll_interval_seconds - Spec lock poll interval
  logging.level                 - debug, info, warn, error
  logging.buffer_size           - Recent debug records kept in memory
  server.addr                   - Listen address for 'storyloop serve'

Workers are lists and must be edited in the file directly.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Register adds all config-related commands to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// settableKeys maps each key accepted by 'config set' to its value kind.
var settableKeys = map[string]string{
	"state.dir":                      "string",
	"state.backend":                  "backend",
	"state.log_retention_lines":      "int",
	"state.archive_keep":             "int",
	"state.archive_max_age_hours":    "int",
	"run.plan_path":                  "string",
	"run.max_iterations":             "int",
	"run.max_parallel":               "int",
	"run.item_timeout_seconds":       "int",
	"run.pause_timeout_seconds":      "int",
	"speclock.poll_interval_seconds": "int",
	"logging.level":                  "level",
	"logging.buffer_size":            "int",
	"server.addr":                    "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	return writeSettings(out, viper.AllSettings())
}

func writeSettings(w io.Writer, settings map[string]any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return err
	}
	return enc.Close()
}

// parseValue converts a raw 'config set' argument to the key's type.
func parseValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'storyloop config set --help' to see valid keys", key)
	}

	switch kind {
	case "backend":
		for _, b := range appconfig.ValidBackends() {
			if value == b {
				return value, nil
			}
		}
		return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
			key, value, strings.Join(appconfig.ValidBackends(), ", "))
	case "level":
		lower := strings.ToLower(value)
		for _, l := range appconfig.ValidLogLevels() {
			if lower == l {
				return lower, nil
			}
		}
		return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
			key, value, strings.Join(appconfig.ValidLogLevels(), ", "))
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	typed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = appconfig.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typed)
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfig saved to %s\n", key, typed, configFile)
	return nil
}

const defaultConfigContent = `# storyloop configuration

state:
  # Where session state, the progress log and archives live
  dir: .storyloop/state
  # Key-value backend: file or sqlite
  backend: file
  log_retention_lines: 500
  archive_keep: 10
  archive_max_age_hours: 168

run:
  plan_path: .storyloop/plan.yaml
  max_iterations: 50
  # Concurrent workers per batch (0 = unlimited)
  max_parallel: 0
  # Per-item timeout in seconds (0 = none)
  item_timeout_seconds: 0
  pause_timeout_seconds: 1800

speclock:
  poll_interval_seconds: 5

# Each worker receives the work item as JSON on stdin. Exit status 0 marks
# the item completed; stderr becomes the failure message.
workers:
  default:
    command: ["./scripts/work-item.sh"]

logging:
  level: info
  buffer_size: 200

server:
  addr: 127.0.0.1:7878
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'storyloop config set' to modify values", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ProjectConfigDir, "config.yaml"))
	fmt.Fprintf(out, "  2. %s\n", appconfig.ConfigFile())
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_RUN_MAX_ITERATIONS)\n", appconfig.EnvPrefix, appconfig.EnvPrefix)
	return nil
}
