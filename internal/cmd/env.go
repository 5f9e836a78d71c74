package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/orchestrator"
	"github.com/Iron-Ham/storyloop/internal/session"
	"github.com/Iron-Ham/storyloop/internal/speclock"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// env bundles everything a command needs against one state directory.
type env struct {
	cfg     *config.Config
	logger  *logging.Logger
	backend session.Backend
	store   *state.Store
	lock    *speclock.Lock
}

// openEnv loads configuration and opens the state directory. Callers must
// Close the returned env.
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dir := cfg.State.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	logger, err := logging.NewLoggerWithBuffer(dir, cfg.Logging.Level, cfg.Logging.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	backend, err := session.Open(dir, cfg.State.Backend)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store: state.New(backend, state.Options{
			LogRetentionLines: cfg.State.LogRetentionLines,
			ArchiveKeep:       cfg.State.ArchiveKeep,
			ArchiveMaxAge:     cfg.State.ArchiveMaxAge(),
		}, logger),
		lock: speclock.New(backend, cfg.SpecLock.PollInterval(), logger),
	}
	logger.Debug("environment opened", "state_dir", dir, "backend", cfg.State.Backend, "config", viper.ConfigFileUsed())
	return e, nil
}

// Close releases the backend and the debug log.
func (e *env) Close() error {
	return errors.Join(e.backend.Close(), e.logger.Close())
}

// registry builds the worker registry from the configured commands.
func (e *env) registry() *orchestrator.StaticRegistry {
	reg := orchestrator.NewStaticRegistry()
	for _, name := range e.cfg.WorkerNames() {
		wc := e.cfg.Workers[name]
		reg.Register(name, &orchestrator.CommandWorker{Command: wc.Command, Dir: wc.Dir})
	}
	return reg
}

// newOrchestrator creates an orchestrator for the plan at planPath.
func (e *env) newOrchestrator(planPath string) *orchestrator.Orchestrator {
	abs, err := filepath.Abs(planPath)
	if err == nil {
		planPath = abs
	}
	return orchestrator.New(orchestrator.Config{
		PlanPath:     planPath,
		MaxParallel:  e.cfg.Run.MaxParallel,
		ItemTimeout:  e.cfg.Run.ItemTimeout(),
		PauseTimeout: e.cfg.Run.PauseTimeout(),
	}, e.store, e.registry(), e.lock, e.logger)
}

// planPath resolves the plan argument, falling back to run.plan_path.
func (e *env) planPath(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return e.cfg.Run.PlanPath
}
