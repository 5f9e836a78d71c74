package logging

import (
	"sync"
	"time"
)

// Record is a log entry as kept in the in-memory ring.
type Record struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a thread-safe fixed-capacity buffer of log records. Once full,
// each push overwrites the oldest record.
type Ring struct {
	data  []Record
	size  int
	start int
	count int
	mu    sync.RWMutex
}

// NewRing creates a ring holding at most size records.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{
		data: make([]Record, size),
		size: size,
	}
}

// Push appends a record, evicting the oldest one when the ring is full.
func (r *Ring) Push(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := (r.start + r.count) % r.size
	r.data[end] = rec
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		return
	}
	r.count++
}

// Last returns up to n of the newest records in chronological order.
// n <= 0 returns all buffered records.
func (r *Ring) Last(n int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Record, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.data[(r.start+i)%r.size])
	}
	return out
}

// Len returns the number of records currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return r.size
}

// Reset clears the ring.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.start = 0
	r.count = 0
	clear(r.data)
}
