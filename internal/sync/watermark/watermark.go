// Package watermark stores, per record type, the instant up to which that type is
// considered synchronized with the remote service.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stacklok/fieldsync/internal/kvstore"
	"github.com/stacklok/fieldsync/internal/records"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=watermark.go Store

// KeyPrefix prefixes the key/value key of every watermark
const KeyPrefix = "watermark/"

// Epoch is the watermark of a type that has never been synchronized
var Epoch = time.UnixMilli(0).UTC()

// Store reads and advances watermarks. Writes overwrite, last writer wins.
type Store interface {
	// Get returns the watermark for the type, or Epoch when it has never been set
	Get(ctx context.Context, recordType records.Type) (time.Time, error)

	// Set overwrites the watermark for the type
	Set(ctx context.Context, recordType records.Type, t time.Time) error
}

type kvWatermarkStore struct {
	kv kvstore.Store
}

// NewStore returns a Store persisting watermarks as integer Unix milliseconds
func NewStore(kv kvstore.Store) Store {
	return &kvWatermarkStore{kv: kv}
}

// Key returns the key/value key holding the watermark of the type
func Key(recordType records.Type) string {
	return KeyPrefix + string(recordType)
}

func (s *kvWatermarkStore) Get(ctx context.Context, recordType records.Type) (time.Time, error) {
	raw, err := s.kv.Get(ctx, Key(recordType))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Epoch, nil
		}
		return Epoch, fmt.Errorf("failed to read watermark for %s: %w", recordType, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Epoch, fmt.Errorf("invalid watermark for %s: %w", recordType, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (s *kvWatermarkStore) Set(ctx context.Context, recordType records.Type, t time.Time) error {
	if err := s.kv.Set(ctx, Key(recordType), strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to write watermark for %s: %w", recordType, err)
	}
	return nil
}
