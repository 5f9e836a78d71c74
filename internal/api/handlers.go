package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/speclock"
	"github.com/Iron-Ham/storyloop/internal/state"
)

const defaultLogLines = 50

// Health handles GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StateHandler serves the live session and its archive.
type StateHandler struct {
	store *state.Store
}

// Get handles GET /state
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Load(r.Context())
	if errors.Is(err, state.ErrNoSession) {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Archive handles GET /archive
func (h *StateHandler) Archive(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListArchive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []state.ArchiveEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// LockHandler serves the spec lock.
type LockHandler struct {
	lock *speclock.Lock
}

type lockResponse struct {
	speclock.State
	Info string `json:"info"`
}

// Get handles GET /lock
func (h *LockHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.lock.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{State: *st, Info: h.lock.GetLockInfo(r.Context())})
}

// Release handles DELETE /lock
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	if err := h.lock.ReleaseLock(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogHandler serves the progress log and recent debug records.
type LogHandler struct {
	store  *state.Store
	logger *logging.Logger
}

// Progress handles GET /log?n=
func (h *LogHandler) Progress(w http.ResponseWriter, r *http.Request) {
	n, ok := lineCount(w, r)
	if !ok {
		return
	}
	lines, err := h.store.ReadLog(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

// Recent handles GET /debug/recent?n=
func (h *LogHandler) Recent(w http.ResponseWriter, r *http.Request) {
	n, ok := lineCount(w, r)
	if !ok {
		return
	}
	records := h.logger.Recent(n)
	if records == nil {
		records = []logging.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func lineCount(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return defaultLogLines, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
