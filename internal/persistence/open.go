package persistence

import "fmt"

// Backends accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the store for a configured backend. The returned close
// function is never nil.
func Open(backend, path string) (Store, func() error, error) {
	switch backend {
	case BackendJSON, "":
		fs, err := NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	case BackendSQLite:
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", backend)
}
