package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/connectivity"
	"github.com/stacklok/fieldsync/internal/otel"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/sync/transfer"
	"github.com/stacklok/fieldsync/internal/sync/watermark"
	"github.com/stacklok/fieldsync/internal/telemetry"
)

// Result is the outcome of synchronizing one record type
type Result struct {
	RecordType         records.Type
	Succeeded          bool
	RecordsTransferred int
	Err                *Error
	Duration           time.Duration
}

// Errors returns the failure messages of the result, empty on success
func (r Result) Errors() []string {
	if r.Err == nil {
		return []string{}
	}
	return []string{r.Err.Message}
}

// Summary aggregates the results of a full pass
type Summary struct {
	Results     []Result
	TotalSynced int
	TotalErrors []string
	Duration    time.Duration
}

// Succeeded returns how many record types synchronized successfully
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Succeeded {
			n++
		}
	}
	return n
}

// Status classifies the pass as a whole
func (s *Summary) Status() auditlog.Status {
	return auditlog.StatusFor(s.Succeeded(), len(s.Results))
}

// AuditRecorder is the part of the audit log the Manager writes to
type AuditRecorder interface {
	Append(ctx context.Context, entry auditlog.Entry) error
}

// Manager orchestrates synchronization of local records to the remote service
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/fieldsync/internal/sync Manager
type Manager interface {
	// SyncAll synchronizes every record type in order, writing one audit entry per
	// type once all of them have been attempted
	SyncAll(ctx context.Context, principalID string) *Summary

	// SyncType synchronizes a single record type and writes one audit entry for it
	SyncType(ctx context.Context, recordType records.Type, principalID string) Result
}

// DefaultManager is the Manager used in production
type DefaultManager struct {
	selector   PendingSelector
	transfer   transfer.Client
	watermarks watermark.Store
	probe      connectivity.Probe
	audit      AuditRecorder
	types      []records.Type
	now        func() time.Time
	metrics    *telemetry.SyncMetrics
	tracer     trace.Tracer
}

// Option configures a DefaultManager
type Option func(*DefaultManager)

// WithClock overrides the clock used for watermarks, audit timestamps and durations
func WithClock(now func() time.Time) Option {
	return func(m *DefaultManager) {
		m.now = now
	}
}

// WithSyncMetrics records per-type outcomes on the given instruments
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(m *DefaultManager) {
		m.metrics = metrics
	}
}

// WithTracer emits a span per pass and per record type
func WithTracer(tracer trace.Tracer) Option {
	return func(m *DefaultManager) {
		m.tracer = tracer
	}
}

// WithRecordTypes restricts the types SyncAll walks. The order given is kept.
func WithRecordTypes(types ...records.Type) Option {
	return func(m *DefaultManager) {
		m.types = types
	}
}

// NewManager creates a DefaultManager
func NewManager(
	selector PendingSelector,
	transferClient transfer.Client,
	watermarks watermark.Store,
	probe connectivity.Probe,
	audit AuditRecorder,
	opts ...Option,
) *DefaultManager {
	m := &DefaultManager{
		selector:   selector,
		transfer:   transferClient,
		watermarks: watermarks,
		probe:      probe,
		audit:      audit,
		types:      records.All(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SyncAll implements Manager
func (m *DefaultManager) SyncAll(ctx context.Context, principalID string) *Summary {
	start := m.now()
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.all", trace.WithAttributes(
		otel.AttrPrincipalID.String(principalID),
		otel.AttrSyncTypeCount.Int(len(m.types)),
	))
	defer span.End()

	summary := &Summary{
		Results:     make([]Result, 0, len(m.types)),
		TotalErrors: []string{},
	}
	for _, recordType := range m.types {
		result := m.syncType(ctx, recordType, principalID)
		summary.Results = append(summary.Results, result)
		summary.TotalSynced += result.RecordsTransferred
		summary.TotalErrors = append(summary.TotalErrors, result.Errors()...)
	}

	for _, result := range summary.Results {
		m.recordAudit(ctx, result)
	}

	summary.Duration = m.now().Sub(start)
	span.SetAttributes(
		otel.AttrRecordsSynced.Int(summary.TotalSynced),
		otel.AttrSyncFailedCount.Int(len(summary.Results)-summary.Succeeded()),
	)

	slog.InfoContext(ctx, "Sync pass completed",
		"types", len(summary.Results),
		"succeeded", summary.Succeeded(),
		"records_synced", summary.TotalSynced,
		"duration", summary.Duration)
	return summary
}

// SyncType implements Manager
func (m *DefaultManager) SyncType(ctx context.Context, recordType records.Type, principalID string) Result {
	result := m.syncType(ctx, recordType, principalID)
	m.recordAudit(ctx, result)
	return result
}

// syncType performs one type's attempt. It never panics and never returns an
// error; every failure is folded into the Result.
func (m *DefaultManager) syncType(
	ctx context.Context, recordType records.Type, principalID string,
) (result Result) {
	start := m.now()
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.type", trace.WithAttributes(
		otel.AttrRecordType.String(string(recordType)),
		otel.AttrPrincipalID.String(principalID),
	))

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Recovered from panic during sync",
				"record_type", recordType, "panic", r)
			result = Result{RecordType: recordType, Err: recoveredError(r)}
		}
		result.Duration = m.now().Sub(start)

		if result.Err != nil {
			span.SetAttributes(otel.AttrSyncErrorKind.String(string(result.Err.Kind)))
			otel.RecordError(span, result.Err)
			slog.WarnContext(ctx, "Record type failed to sync",
				"record_type", recordType,
				"kind", result.Err.Kind,
				"error", result.Err.Message)
		}
		span.SetAttributes(otel.AttrRecordsSynced.Int(result.RecordsTransferred))
		span.End()

		m.metrics.RecordSyncAttempt(ctx, string(recordType), result.Duration,
			result.RecordsTransferred, result.Succeeded)
	}()

	// Connectivity can drop between types, so it is checked for each one
	if !m.probe.IsConnected(ctx) {
		return Result{RecordType: recordType, Err: noConnectivityError()}
	}

	pending, err := m.selector.Pending(ctx, recordType, principalID)
	if err != nil {
		return Result{RecordType: recordType, Err: newError(KindUnexpected, err)}
	}
	span.SetAttributes(otel.AttrRecordsPending.Int(len(pending)))

	if len(pending) == 0 {
		slog.DebugContext(ctx, "No pending records", "record_type", recordType)
		return Result{RecordType: recordType, Succeeded: true}
	}

	if err := m.transfer.Send(ctx, recordType, pending); err != nil {
		return Result{RecordType: recordType, Err: newError(KindTransferFailed, err)}
	}

	// The watermark is the instant the transfer returned. Records written while the
	// request was in flight fall below it and are not selected again.
	completedAt := m.now()
	if err := m.watermarks.Set(ctx, recordType, completedAt); err != nil {
		return Result{RecordType: recordType, Err: newError(KindStorageFailed, err)}
	}

	slog.InfoContext(ctx, "Record type synced",
		"record_type", recordType,
		"records", len(pending),
		"watermark", completedAt.UTC())
	return Result{RecordType: recordType, Succeeded: true, RecordsTransferred: len(pending)}
}

func (m *DefaultManager) recordAudit(ctx context.Context, result Result) {
	if m.audit == nil {
		return
	}
	entry := auditlog.Entry{
		Timestamp:     m.now(),
		Scope:         auditlog.ScopeSingleType,
		RecordType:    result.RecordType,
		Status:        auditlog.StatusFailed,
		RecordsSynced: result.RecordsTransferred,
		Errors:        result.Errors(),
		DurationMs:    result.Duration.Milliseconds(),
	}
	if result.Succeeded {
		entry.Status = auditlog.StatusSuccess
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "Failed to write sync audit entry",
			"record_type", result.RecordType, "error", err)
	}
}
