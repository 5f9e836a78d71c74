// Package session provides the key-value persistence layer that holds a
// session's durable records, plus the cross-process run lock that keeps two
// processes from driving the same state directory.
//
// Two backends implement [Store]: [FileStore] maps keys to files below a
// directory, and [SQLiteStore] keeps them in a single embedded database.
package session

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyLocked is returned when the run lock is held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// ErrInvalidKey is returned for keys that are empty or would escape the store.
var ErrInvalidKey = errors.New("invalid key")

// Store provides generic key-value persistence operations.
// Keys use "/" as a separator (e.g. "archive/abc.json").
type Store interface {
	// Save persists data with the given key, replacing any previous value
	// atomically.
	Save(ctx context.Context, key string, data []byte) error

	// Load retrieves data for the given key.
	// Returns ErrNotFound if the key does not exist.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes the data associated with the given key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, sorted.
	// An empty prefix returns all keys.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if a key exists without loading its data.
	Exists(ctx context.Context, key string) (bool, error)
}

// Backend is a Store rooted in a state directory.
type Backend interface {
	Store
	io.Closer

	// Dir is the state directory. Sidecar files such as the progress log
	// and the run lock live here regardless of backend.
	Dir() string
}

// PathResolver is implemented by backends whose keys map to individual
// files, so callers can watch them for changes.
type PathResolver interface {
	Path(key string) string
}
