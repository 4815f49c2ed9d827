package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// OpenOptions selects and configures a Store backend.
type OpenOptions struct {
	Backend     string
	SQLitePath  string
	PostgresURL string
	Pool        PoolConfig
	// LogicCacheSize wraps SQL backends in a detection logic LRU when positive.
	LogicCacheSize int
}

// Open creates the configured Store. SQLite parent directories are created as needed.
func Open(ctx context.Context, opts OpenOptions) (Store, error) {
	var (
		st  *SQLStore
		err error
	)
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if dir := filepath.Dir(opts.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		st, err = OpenSQLStore(ctx, DriverSQLite, opts.SQLitePath, opts.Pool)
	case BackendPostgres:
		st, err = OpenSQLStore(ctx, DriverPostgres, opts.PostgresURL, opts.Pool)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.LogicCacheSize > 0 {
		return NewLogicCache(st, opts.LogicCacheSize)
	}
	return st, nil
}
