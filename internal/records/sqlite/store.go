// Package sqlite provides the device-local record store backed by an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/stacklok/fieldsync/internal/records"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    id           TEXT NOT NULL,
    record_type  TEXT NOT NULL,
    group_id     TEXT NOT NULL DEFAULT '',
    principal_id TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    data         TEXT,
    PRIMARY KEY(record_type, group_id, id)
);
CREATE INDEX IF NOT EXISTS records_principal_idx ON records(record_type, principal_id);
CREATE TABLE IF NOT EXISTS group_assignments (
    principal_id TEXT NOT NULL,
    group_id     TEXT NOT NULL,
    PRIMARY KEY(principal_id, group_id)
);`

// Store is a records.Store over SQLite. Timestamps are stored as Unix milliseconds.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dsn and ensures the schema exists.
// Use ":memory:" for an ephemeral store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing database handle and ensures the schema exists
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("records: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create record store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces records
func (s *Store) Put(ctx context.Context, recs ...records.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records
        (id, record_type, group_id, principal_id, created_at, updated_at, data)
        VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if r.ID == "" {
			return fmt.Errorf("records: record id must be set")
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			string(r.Type),
			r.GroupID,
			r.PrincipalID,
			r.CreatedAt.UnixMilli(),
			r.UpdatedAt.UnixMilli(),
			nullableData(r.Data),
		); err != nil {
			return fmt.Errorf("failed to store record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// AssignGroup records that a principal is responsible for a class grouping
func (s *Store) AssignGroup(ctx context.Context, principalID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_assignments(principal_id, group_id) VALUES(?, ?)`,
		principalID, groupID)
	return err
}

// ListGroups implements records.Store
func (s *Store) ListGroups(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM group_assignments WHERE principal_id = ? ORDER BY group_id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListRecords implements records.Store
func (s *Store) ListRecords(
	ctx context.Context, recordType records.Type, principalID, groupID string,
) ([]records.Record, error) {
	query := `SELECT id, group_id, principal_id, created_at, updated_at, data
        FROM records WHERE record_type = ? AND group_id = ?`
	args := []any{string(recordType), groupID}
	if groupID == "" {
		query = `SELECT id, group_id, principal_id, created_at, updated_at, data
        FROM records WHERE record_type = ? AND principal_id = ?`
		args = []any{string(recordType), principalID}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		var (
			r                    records.Record
			createdAt, updatedAt int64
			data                 sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.GroupID, &r.PrincipalID, &createdAt, &updatedAt, &data); err != nil {
			return nil, err
		}
		r.Type = recordType
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		if data.Valid && data.String != "" {
			r.Data = []byte(data.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableData(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
