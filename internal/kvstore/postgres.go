package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbStore implements Store on the fieldsync_kv table created by the database
// package migrations.
type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a database-backed Store
func NewDBStore(pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &dbStore{pool: pool}, nil
}

func (d *dbStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := d.pool.QueryRow(ctx, `SELECT value FROM fieldsync_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

func (d *dbStore) Set(ctx context.Context, key, value string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO fieldsync_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (d *dbStore) Delete(ctx context.Context, key string) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM fieldsync_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Update serialises writers on a transaction-scoped advisory lock keyed by the key
// name, which also covers keys that have no row yet.
func (d *dbStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		err := tx.Rollback(ctx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.WarnContext(ctx, "Failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock key %s: %w", key, err)
	}

	var current string
	found := true
	err = tx.QueryRow(ctx, `SELECT value FROM fieldsync_kv WHERE key = $1 FOR UPDATE`, key).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		found = false
	} else if err != nil {
		return fmt.Errorf("failed to read key %s: %w", key, err)
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO fieldsync_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, next)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit key %s: %w", key, err)
	}
	return nil
}
