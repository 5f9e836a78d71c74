// Package logging provides structured logging for storyloop sessions.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. A [Logger] is an explicit instance: it is created
// once by the command layer and injected into the state store, the
// orchestrator, the continuation gate and the spec lock. There is no
// process-wide logger.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (session ID, item ID, phase)
//   - A bounded ring of recent records shared by a logger and its children
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer and the ring.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/.storyloop", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	itemLogger := logger.WithSession(st.SessionID).WithItem("auth-1")
//	itemLogger.Info("item dispatched", "worker", "backend")
//
//	for _, rec := range logger.Recent(20) {
//	    fmt.Println(rec.Time, rec.Level, rec.Message)
//	}
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output, or [New] with a
// bytes.Buffer to assert on output.
package logging
