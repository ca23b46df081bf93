package auditlog

import (
	"time"

	"github.com/stacklok/fieldsync/internal/records"
)

// Scope says whether an entry covers one record type or a whole pass
type Scope string

const (
	// ScopeSingleType is an entry for one record type
	ScopeSingleType Scope = "single-type"

	// ScopeAll is an entry summarising a whole automatic pass
	ScopeAll Scope = "all"
)

// Status is the outcome of a sync attempt
type Status string

const (
	// StatusSuccess means every covered type synchronized
	StatusSuccess Status = "success"

	// StatusFailed means no covered type synchronized
	StatusFailed Status = "failed"

	// StatusPartial means some, but not all, covered types synchronized
	StatusPartial Status = "partial"
)

// ParseStatus converts a string into a Status
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusSuccess, StatusFailed, StatusPartial:
		return Status(s), true
	default:
		return "", false
	}
}

// Entry is one immutable audit record of a sync attempt
type Entry struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	Scope         Scope        `json:"scope"`
	RecordType    records.Type `json:"recordType,omitempty"`
	Status        Status       `json:"status"`
	RecordsSynced int          `json:"recordsSynced"`
	Errors        []string     `json:"errors"`
	DurationMs    int64        `json:"durationMs"`
}

// Stats aggregates the retained entries. Partial entries count toward TotalSyncs
// only.
type Stats struct {
	TotalSyncs         int        `json:"totalSyncs"`
	SuccessfulSyncs    int        `json:"successfulSyncs"`
	FailedSyncs        int        `json:"failedSyncs"`
	TotalRecordsSynced int        `json:"totalRecordsSynced"`
	LastSyncTime       *time.Time `json:"lastSyncTime,omitempty"`
	AverageDurationMs  float64    `json:"averageDurationMs"`
}

// Filter selects entries. Zero fields match everything; From and To are inclusive.
type Filter struct {
	RecordType records.Type
	Status     Status
	From       time.Time
	To         time.Time
}

// Matches reports whether the entry passes the filter
func (f Filter) Matches(e Entry) bool {
	if f.RecordType != "" && e.RecordType != f.RecordType {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// StatusFor derives the status of a pass from its per-type outcomes
func StatusFor(succeeded, total int) Status {
	switch {
	case total > 0 && succeeded == total:
		return StatusSuccess
	case succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
