package state

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle status of a session.
type Status string

const (
	// StatusRunning indicates batches are being dispatched.
	StatusRunning Status = "running"

	// StatusPaused indicates the run is waiting for a spec lock to clear.
	StatusPaused Status = "paused"

	// StatusCompleted indicates every item completed.
	StatusCompleted Status = "completed"

	// StatusFailed indicates at least one item failed, the iteration budget
	// ran out, or the session went inactive.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the run was stopped by its caller.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further work will happen under this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SessionState is the durable record of one execution session.
type SessionState struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	// Iteration counts recorded item outcomes and continuation ticks.
	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`

	CurrentBatch int `json:"current_batch"`
	TotalBatches int `json:"total_batches"`

	// CompletedItems and FailedItems are disjoint.
	CompletedItems []string `json:"completed_items"`
	FailedItems    []string `json:"failed_items"`

	// InProgress is the item most recently dispatched, or empty.
	InProgress string `json:"in_progress,omitempty"`

	Status       Status    `json:"status"`
	LastActivity time.Time `json:"last_activity"`

	PlanPath string `json:"plan_path"`
	PlanHash string `json:"plan_hash,omitempty"`

	// Errors maps failed item IDs to their most recent error text.
	Errors map[string]string `json:"errors,omitempty"`
}

// IsCompleted reports whether id is recorded as completed.
func (s *SessionState) IsCompleted(id string) bool {
	return slices.Contains(s.CompletedItems, id)
}

// IsFailed reports whether id is recorded as failed.
func (s *SessionState) IsFailed(id string) bool {
	return slices.Contains(s.FailedItems, id)
}

// IsResolved reports whether id has any recorded outcome.
func (s *SessionState) IsResolved(id string) bool {
	return s.IsCompleted(id) || s.IsFailed(id)
}

// BudgetExhausted reports whether the iteration budget is used up.
func (s *SessionState) BudgetExhausted() bool {
	return s.Iteration >= s.MaxIterations
}

// Clone returns a deep copy.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedItems = slices.Clone(s.CompletedItems)
	c.FailedItems = slices.Clone(s.FailedItems)
	if s.Errors != nil {
		c.Errors = make(map[string]string, len(s.Errors))
		for k, v := range s.Errors {
			c.Errors[k] = v
		}
	}
	return &c
}

// Request is the original top-level request that started the session.
// The continuation gate hands it back verbatim so the caller can re-issue it.
type Request struct {
	// Text is the request as free text.
	Text string `json:"text,omitempty"`
	// Data carries a structured request when one was supplied as JSON.
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRequest builds a Request from raw input: valid JSON objects and arrays
// are kept structured, anything else is stored as text.
func NewRequest(raw string, now time.Time) Request {
	req := Request{CreatedAt: now.UTC()}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid([]byte(trimmed)) {
			req.Data = json.RawMessage(trimmed)
			return req
		}
	}
	req.Text = raw
	return req
}
