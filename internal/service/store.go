package service

import (
	"context"
	"fmt"

	"github.com/ryuu1kyou/anomaly-analytics/internal/config"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

// StoreOptions maps the database section of cfg onto store.OpenOptions.
func StoreOptions(cfg *config.Config) store.OpenOptions {
	return store.OpenOptions{
		Backend:     cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresURL: cfg.Database.PostgresURL,
		Pool: store.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		},
		LogicCacheSize: cfg.Database.LogicCacheSize,
	}
}

// OpenStore opens the store selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, StoreOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
	}
	return st, nil
}
