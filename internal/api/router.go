// Package api exposes session state, the spec lock and the progress log
// over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/speclock"
	"github.com/Iron-Ham/storyloop/internal/state"
)

const shutdownTimeout = 5 * time.Second

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(store *state.Store, lock *speclock.Lock, logger *logging.Logger) *chi.Mux {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithPhase("api")

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	stateH := &StateHandler{store: store}
	lockH := &LockHandler{lock: lock}
	logH := &LogHandler{store: store, logger: logger}

	r.Get("/healthz", Health)
	r.Get("/state", stateH.Get)
	r.Get("/archive", stateH.Archive)
	r.Route("/lock", func(r chi.Router) {
		r.Get("/", lockH.Get)
		r.Delete("/", lockH.Release)
	})
	r.Get("/log", logH.Progress)
	r.Get("/debug/recent", logH.Recent)

	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, handler, logger)
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NopLogger()
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
