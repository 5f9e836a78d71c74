package session

import "fmt"

// Backend kinds accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the backend of the given kind rooted at dir. An empty kind
// selects the file backend.
func Open(dir, kind string) (Backend, error) {
	switch kind {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendSQLite:
		return OpenSQLite(dir)
	default:
		return nil, fmt.Errorf("unknown state backend %q (want %s or %s)", kind, BackendFile, BackendSQLite)
	}
}
