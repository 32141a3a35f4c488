package backend

import (
	"context"

	"pnvr/internal/ports"
)

// Backend is what the report side needs from a budget source.
type Backend interface {
	ports.BudgetReader
	ports.ConvenioLister
	Ping(ctx context.Context) error
}

// CleanupFunc releases the resources of a backend.
type CleanupFunc func() error

// BackendResult contains the budget source, the export queue when exports are
// enabled, and an optional cleanup function.
type BackendResult struct {
	Backend Backend
	Queue   ports.ExportQueue
	Cleanup CleanupFunc
}

// Close runs the cleanup function, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLiteDBPath is the budget store of the sqlite backend and the export
	// queue of every backend when WithExportQueue is set.
	SQLiteDBPath    string
	WithExportQueue bool

	PostgresDSN string

	// SeedFile is a YAML budget file. It seeds the memory backend and is
	// imported into SQLite at startup by the sqlite backend.
	SeedFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
