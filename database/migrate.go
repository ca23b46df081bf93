// Package database provides the embedded schema migrations for the PostgreSQL
// state backend.
package database

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5"
)

// TestDatabaseURLEnv names the environment variable pointing at a disposable
// PostgreSQL database. Database tests are skipped when it is unset.
const TestDatabaseURLEnv = "FIELDSYNC_TEST_DATABASE_URL"

//go:embed migrations/000001_init.up.sql
var initMigrationUp string

//go:embed migrations/000001_init.down.sql
var initMigrationDown string

// MigrateUp creates the key/value state table
func MigrateUp(ctx context.Context, db *pgx.Conn) error {
	_, err := db.Exec(ctx, initMigrationUp)
	return err
}

// MigrateDown drops the key/value state table
func MigrateDown(ctx context.Context, db *pgx.Conn) error {
	_, err := db.Exec(ctx, initMigrationDown)
	return err
}
