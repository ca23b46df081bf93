package kvstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/fieldsync/internal/config"
)

// New builds the Store selected by the configuration. The returned cleanup function
// releases backend resources and is always non-nil.
func New(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	noop := func() {}

	switch cfg.GetStorageType() {
	case config.StorageTypeFile:
		dir := cfg.GetDataDir()
		slog.Info("Using file state storage", "dir", dir)
		return NewFileStore(dir), noop, nil

	case config.StorageTypeDatabase:
		connString, err := cfg.Storage.Database.GetConnectionString()
		if err != nil {
			return nil, noop, fmt.Errorf("failed to build database connection string: %w", err)
		}

		pool, err := pgxpool.New(ctx, connString)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}

		store, err := NewDBStore(pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		slog.Info("Using database state storage",
			"host", cfg.Storage.Database.Host,
			"database", cfg.Storage.Database.Database)
		return store, pool.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}
