package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. STORYLOOP_RUN_MAX_ITERATIONS.
const EnvPrefix = "STORYLOOP"

// Config represents the complete storyloop configuration
type Config struct {
	State    StateConfig             `mapstructure:"state"`
	Run      RunConfig               `mapstructure:"run"`
	SpecLock SpecLockConfig          `mapstructure:"speclock"`
	Workers  map[string]WorkerConfig `mapstructure:"workers"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Server   ServerConfig            `mapstructure:"server"`
}

// StateConfig controls where and how session state is persisted
type StateConfig struct {
	// Dir holds the live state, request, archive, progress log and run lock
	Dir string `mapstructure:"dir"`
	// Backend selects the key-value store: "file" or "sqlite"
	Backend string `mapstructure:"backend"`
	// LogRetentionLines is how many progress log lines survive cleanup
	LogRetentionLines int `mapstructure:"log_retention_lines"`
	// ArchiveKeep is the number of archived sessions kept (0 = unlimited)
	ArchiveKeep int `mapstructure:"archive_keep"`
	// ArchiveMaxAgeHours prunes archives older than this (0 = never)
	ArchiveMaxAgeHours int `mapstructure:"archive_max_age_hours"`
}

// ArchiveMaxAge returns the archive age limit as a duration.
func (c *StateConfig) ArchiveMaxAge() time.Duration {
	return time.Duration(c.ArchiveMaxAgeHours) * time.Hour
}

// RunConfig controls plan execution
type RunConfig struct {
	// PlanPath is the plan document used when none is given on the command line
	PlanPath string `mapstructure:"plan_path"`
	// MaxIterations is the per-session iteration budget
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxParallel caps concurrent workers per batch (0 = unlimited)
	MaxParallel int `mapstructure:"max_parallel"`
	// ItemTimeoutSeconds bounds each worker call (0 = no limit)
	ItemTimeoutSeconds int `mapstructure:"item_timeout_seconds"`
	// PauseTimeoutSeconds bounds how long a run waits on a spec lock
	PauseTimeoutSeconds int `mapstructure:"pause_timeout_seconds"`
}

// ItemTimeout returns the per-item timeout as a duration.
func (c *RunConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSeconds) * time.Second
}

// PauseTimeout returns the spec lock wait limit as a duration.
func (c *RunConfig) PauseTimeout() time.Duration {
	return time.Duration(c.PauseTimeoutSeconds) * time.Second
}

// SpecLockConfig controls spec lock polling
type SpecLockConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// PollInterval returns the poll interval as a duration.
func (c *SpecLockConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WorkerConfig describes an external command that executes work items
// assigned to the worker of the same name.
type WorkerConfig struct {
	// Command is the argv; the item is passed as JSON on stdin
	Command []string `mapstructure:"command"`
	// Dir is the working directory (default: current directory)
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Level is the minimum level written: "debug", "info", "warn" or "error"
	Level string `mapstructure:"level"`
	// BufferSize is the number of recent records kept in memory
	BufferSize int `mapstructure:"buffer_size"`
}

// ServerConfig controls the read-only HTTP surface
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		State: StateConfig{
			Dir:                filepath.Join(".storyloop", "state"),
			Backend:            "file",
			LogRetentionLines:  500,
			ArchiveKeep:        10,
			ArchiveMaxAgeHours: 7 * 24,
		},
		Run: RunConfig{
			PlanPath:            filepath.Join(".storyloop", "plan.yaml"),
			MaxIterations:       50,
			MaxParallel:         0,
			ItemTimeoutSeconds:  0,
			PauseTimeoutSeconds: 30 * 60,
		},
		SpecLock: SpecLockConfig{
			PollIntervalSeconds: 5,
		},
		Workers: map[string]WorkerConfig{},
		Logging: LoggingConfig{
			Level:      "info",
			BufferSize: 200,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7878",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// State defaults
	viper.SetDefault("state.dir", defaults.State.Dir)
	viper.SetDefault("state.backend", defaults.State.Backend)
	viper.SetDefault("state.log_retention_lines", defaults.State.LogRetentionLines)
	viper.SetDefault("state.archive_keep", defaults.State.ArchiveKeep)
	viper.SetDefault("state.archive_max_age_hours", defaults.State.ArchiveMaxAgeHours)

	// Run defaults
	viper.SetDefault("run.plan_path", defaults.Run.PlanPath)
	viper.SetDefault("run.max_iterations", defaults.Run.MaxIterations)
	viper.SetDefault("run.max_parallel", defaults.Run.MaxParallel)
	viper.SetDefault("run.item_timeout_seconds", defaults.Run.ItemTimeoutSeconds)
	viper.SetDefault("run.pause_timeout_seconds", defaults.Run.PauseTimeoutSeconds)

	// Spec lock defaults
	viper.SetDefault("speclock.poll_interval_seconds", defaults.SpecLock.PollIntervalSeconds)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.buffer_size", defaults.Logging.BufferSize)

	// Server defaults
	viper.SetDefault("server.addr", defaults.Server.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Workers == nil {
		cfg.Workers = map[string]WorkerConfig{}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// WorkerNames returns the configured worker names in sorted order.
func (c *Config) WorkerNames() []string {
	names := make([]string, 0, len(c.Workers))
	for name := range c.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storyloop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".storyloop"
	}
	return filepath.Join(home, ".config", "storyloop")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ProjectConfigDir is searched before the user config directory.
const ProjectConfigDir = ".storyloop"

// ValidBackends returns the list of valid state backends
func ValidBackends() []string {
	return []string{"file", "sqlite"}
}
