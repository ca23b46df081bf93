package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/sync/watermark"
)

// PendingSelector determines which local records still need to be sent
//
//go:generate mockgen -destination=mocks/mock_selector.go -package=mocks github.com/stacklok/fieldsync/internal/sync PendingSelector
type PendingSelector interface {
	// Pending returns the records of the type, visible to the principal, that were
	// created or updated after the type's watermark
	Pending(ctx context.Context, recordType records.Type, principalID string) ([]records.Record, error)
}

type watermarkSelector struct {
	store      records.Store
	watermarks watermark.Store
}

// NewPendingSelector creates a PendingSelector reading from store and filtering by
// the watermarks
func NewPendingSelector(store records.Store, watermarks watermark.Store) PendingSelector {
	return &watermarkSelector{store: store, watermarks: watermarks}
}

// Pending implements PendingSelector. A watermark that cannot be read is treated as
// the epoch, so every record of the type is selected rather than silently skipped.
func (s *watermarkSelector) Pending(
	ctx context.Context, recordType records.Type, principalID string,
) ([]records.Record, error) {
	since, err := s.watermarks.Get(ctx, recordType)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read watermark, selecting all records",
			"record_type", recordType, "error", err)
		since = watermark.Epoch
	}

	candidates, err := s.enumerate(ctx, recordType, principalID)
	if err != nil {
		return nil, err
	}

	var pending []records.Record
	for _, r := range candidates {
		if r.ChangedSince(since) {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *watermarkSelector) enumerate(
	ctx context.Context, recordType records.Type, principalID string,
) ([]records.Record, error) {
	if !recordType.Grouped() {
		recs, err := s.store.ListRecords(ctx, recordType, principalID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list %s records: %w", recordType, err)
		}
		return recs, nil
	}

	groups, err := s.store.ListGroups(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups for %s: %w", recordType, err)
	}

	// A record can be reachable through more than one group; the first wins
	seen := make(map[string]struct{})
	var out []records.Record
	for _, group := range groups {
		recs, err := s.store.ListRecords(ctx, recordType, principalID, group)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s records for group %s: %w", recordType, group, err)
		}
		for _, r := range recs {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}
