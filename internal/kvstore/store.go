// Package kvstore provides the durable key/value capability that holds all sync
// engine state: per-type watermarks, the audit log and the scheduler preference.
//
// Two backends are available. The file backend keeps every key in a single JSON
// document guarded by an advisory file lock, so a CLI invocation and a running
// agent can share one data directory. The database backend keeps keys in a
// PostgreSQL table.
package kvstore

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// ErrNotFound is returned by Get when the key has no value
var ErrNotFound = errors.New("key not found")

// UpdateFunc computes the new value of a key from its current one. found is false
// when the key has no value. Returning an error leaves the key unchanged.
type UpdateFunc func(current string, found bool) (string, error)

// Store is a string key/value store. Values written by Set are readable by Get after
// Set returns, including across process restarts for the durable backends.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Update reads key, applies fn and writes the result as one step. No other
	// writer, in this process or another sharing the store, can interleave.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
