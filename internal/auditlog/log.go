// Package auditlog keeps the capacity-bounded, newest-first history of sync attempts.
//
// The whole log is stored as one JSON array under a single key and rewritten on
// every append. Appending prepends the entry and drops the oldest entries beyond
// MaxEntries.
package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/fieldsync/internal/kvstore"
	"github.com/stacklok/fieldsync/internal/records"
)

const (
	// Key is the key/value key holding the log
	Key = "sync_log"

	// MaxEntries is the number of retained entries
	MaxEntries = 100
)

// Log is the sync audit log. Appends go through kvstore.Store.Update, so Logs in
// different goroutines or processes sharing one store never lose each other's
// entries.
type Log struct {
	kv  kvstore.Store
	now func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithClock overrides the clock used to stamp entries without a timestamp
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a Log persisted in kv
func New(kv kvstore.Store, opts ...Option) *Log {
	l := &Log{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an entry. A missing ID or timestamp is filled in.
func (l *Log) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if entry.Errors == nil {
		entry.Errors = []string{}
	}

	err := l.kv.Update(ctx, Key, func(current string, found bool) (string, error) {
		entries := []Entry{}
		if found {
			var err error
			if entries, err = decode(current); err != nil {
				return "", err
			}
		}

		entries = append([]Entry{entry}, entries...)
		if len(entries) > MaxEntries {
			entries = entries[:MaxEntries]
		}

		data, err := json.Marshal(entries)
		if err != nil {
			return "", fmt.Errorf("failed to marshal sync log: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		return fmt.Errorf("failed to write sync log: %w", err)
	}
	return nil
}

// List returns every retained entry, newest first
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	return l.load(ctx)
}

// Query returns the retained entries matching the filter, newest first
func (l *Log) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListByType returns the entries for one record type
func (l *Log) ListByType(ctx context.Context, recordType records.Type) ([]Entry, error) {
	return l.Query(ctx, Filter{RecordType: recordType})
}

// ListByStatus returns the entries with the given outcome
func (l *Log) ListByStatus(ctx context.Context, status Status) ([]Entry, error) {
	return l.Query(ctx, Filter{Status: status})
}

// ListByDateRange returns the entries stamped within [start, end]
func (l *Log) ListByDateRange(ctx context.Context, start, end time.Time) ([]Entry, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid date range: end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return l.Query(ctx, Filter{From: start, To: end})
}

// Stats aggregates the retained entries
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(entries), nil
}

// Clear removes every entry
func (l *Log) Clear(ctx context.Context) error {
	if err := l.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("failed to clear sync log: %w", err)
	}
	return nil
}

// ComputeStats aggregates a newest-first slice of entries
func ComputeStats(entries []Entry) Stats {
	stats := Stats{TotalSyncs: len(entries)}
	if len(entries) == 0 {
		return stats
	}

	var totalDuration int64
	for _, e := range entries {
		switch e.Status {
		case StatusSuccess:
			stats.SuccessfulSyncs++
		case StatusFailed:
			stats.FailedSyncs++
		}
		stats.TotalRecordsSynced += e.RecordsSynced
		totalDuration += e.DurationMs
	}

	last := entries[0].Timestamp
	stats.LastSyncTime = &last
	stats.AverageDurationMs = float64(totalDuration) / float64(len(entries))
	return stats
}

func (l *Log) load(ctx context.Context) ([]Entry, error) {
	raw, err := l.kv.Get(ctx, Key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read sync log: %w", err)
	}

	return decode(raw)
}

func decode(raw string) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync log: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
