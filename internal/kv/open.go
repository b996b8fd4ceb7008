package kv

import (
	"context"
	"fmt"
	"path/filepath"
)

// Supported store drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and configures a Backend.
type Options struct {
	Driver        string
	DataDirectory string
	PostgresDSN   string
}

// Open returns the backend selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", DriverFile:
		return NewFileStore(filepath.Join(opts.DataDirectory, "timelines.json"))
	case DriverSQLite:
		return OpenSQLite(filepath.Join(opts.DataDirectory, "timelines.db"))
	case DriverPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return OpenPostgres(ctx, opts.PostgresDSN)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}
