package store

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Open creates the configured backend under dataDir. An empty dataDir
// keeps badger and sqlite in memory.
func Open(backend, dataDir string, log zerolog.Logger) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger, "":
		if dataDir == "" {
			return OpenBadger("", log)
		}
		return OpenBadger(filepath.Join(dataDir, "badger"), log)
	case BackendSQLite:
		if dataDir == "" {
			return OpenSQLite(":memory:")
		}
		return OpenSQLite(filepath.Join(dataDir, "automation.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
