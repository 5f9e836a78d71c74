package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/Iron-Ham/storyloop/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "run.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = strings.ToLower(l)
	}
	return out
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateRun()...)
	errors = append(errors, c.validateSpecLock()...)
	errors = append(errors, c.validateWorkers()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateServer()...)

	return errors
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.State.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "state.dir",
			Value:   c.State.Dir,
			Message: "must not be empty",
		})
	}

	if !slices.Contains(ValidBackends(), c.State.Backend) {
		errors = append(errors, ValidationError{
			Field:   "state.backend",
			Value:   c.State.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if c.State.LogRetentionLines < 1 {
		errors = append(errors, ValidationError{
			Field:   "state.log_retention_lines",
			Value:   c.State.LogRetentionLines,
			Message: "must be at least 1",
		})
	}
	if c.State.ArchiveKeep < 0 {
		errors = append(errors, ValidationError{
			Field:   "state.archive_keep",
			Value:   c.State.ArchiveKeep,
			Message: "must be non-negative (0 = unlimited)",
		})
	}
	if c.State.ArchiveMaxAgeHours < 0 {
		errors = append(errors, ValidationError{
			Field:   "state.archive_max_age_hours",
			Value:   c.State.ArchiveMaxAgeHours,
			Message: "must be non-negative (0 = never)",
		})
	}

	return errors
}

func (c *Config) validateRun() []ValidationError {
	var errors []ValidationError

	if c.Run.MaxIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.max_iterations",
			Value:   c.Run.MaxIterations,
			Message: "must be at least 1",
		})
	}
	if c.Run.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.max_parallel",
			Value:   c.Run.MaxParallel,
			Message: "must be non-negative (0 = unlimited)",
		})
	}
	if c.Run.ItemTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.item_timeout_seconds",
			Value:   c.Run.ItemTimeoutSeconds,
			Message: "must be non-negative (0 = no limit)",
		})
	}
	if c.Run.PauseTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.pause_timeout_seconds",
			Value:   c.Run.PauseTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateSpecLock() []ValidationError {
	if c.SpecLock.PollIntervalSeconds < 1 {
		return []ValidationError{{
			Field:   "speclock.poll_interval_seconds",
			Value:   c.SpecLock.PollIntervalSeconds,
			Message: "must be at least 1",
		}}
	}
	return nil
}

func (c *Config) validateWorkers() []ValidationError {
	var errors []ValidationError

	for _, name := range c.WorkerNames() {
		w := c.Workers[name]
		if len(w.Command) == 0 || strings.TrimSpace(w.Command[0]) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("workers.%s.command", name),
				Value:   w.Command,
				Message: "must name an executable",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxBufferSize = 100_000
	if c.Logging.BufferSize < 1 || c.Logging.BufferSize > maxBufferSize {
		errors = append(errors, ValidationError{
			Field:   "logging.buffer_size",
			Value:   c.Logging.BufferSize,
			Message: fmt.Sprintf("must be between 1 and %d", maxBufferSize),
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return []ValidationError{{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must be host:port",
		}}
	}
	return nil
}
