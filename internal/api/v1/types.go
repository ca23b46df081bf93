package v1

import (
	"time"

	"github.com/stacklok/fieldsync/internal/auditlog"
	pkgsync "github.com/stacklok/fieldsync/internal/sync"
	"github.com/stacklok/fieldsync/internal/sync/scheduler"
)

// SyncResultResponse is the outcome of one record type
type SyncResultResponse struct {
	RecordType         string `json:"recordType"`
	Succeeded          bool   `json:"succeeded"`
	RecordsTransferred int    `json:"recordsTransferred"`
	ErrorKind          string `json:"errorKind,omitempty"`
	Error              string `json:"error,omitempty"`
	DurationMs         int64  `json:"durationMs"`
}

// SyncSummaryResponse is the outcome of a full pass
type SyncSummaryResponse struct {
	Results     []SyncResultResponse `json:"results"`
	TotalSynced int                  `json:"totalSynced"`
	TotalErrors []string             `json:"totalErrors"`
	DurationMs  int64                `json:"durationMs"`
}

// SyncLogResponse lists audit entries, newest first
type SyncLogResponse struct {
	Entries []auditlog.Entry `json:"entries"`
	Count   int              `json:"count"`
}

// AutoSyncConfigResponse describes the automatic sync configuration
type AutoSyncConfigResponse struct {
	Enabled      bool       `json:"enabled"`
	Frequency    string     `json:"frequency"`
	LastAutoSync *time.Time `json:"lastAutoSync,omitempty"`
	Syncing      bool       `json:"syncing"`
}

// AutoSyncConfigRequest updates the automatic sync configuration. Frequency is
// required when Enabled is true.
type AutoSyncConfigRequest struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency,omitempty"`
}

func newSyncResultResponse(r pkgsync.Result) SyncResultResponse {
	resp := SyncResultResponse{
		RecordType:         string(r.RecordType),
		Succeeded:          r.Succeeded,
		RecordsTransferred: r.RecordsTransferred,
		DurationMs:         r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		resp.ErrorKind = string(r.Err.Kind)
		resp.Error = r.Err.Message
	}
	return resp
}

func newSyncSummaryResponse(s *pkgsync.Summary) SyncSummaryResponse {
	resp := SyncSummaryResponse{
		Results:     make([]SyncResultResponse, 0, len(s.Results)),
		TotalSynced: s.TotalSynced,
		TotalErrors: s.TotalErrors,
		DurationMs:  s.Duration.Milliseconds(),
	}
	if resp.TotalErrors == nil {
		resp.TotalErrors = []string{}
	}
	for _, r := range s.Results {
		resp.Results = append(resp.Results, newSyncResultResponse(r))
	}
	return resp
}

func newAutoSyncConfigResponse(state scheduler.State, syncing bool) AutoSyncConfigResponse {
	return AutoSyncConfigResponse{
		Enabled:      state.Enabled,
		Frequency:    string(state.Frequency),
		LastAutoSync: state.LastAutoSync,
		Syncing:      syncing,
	}
}
