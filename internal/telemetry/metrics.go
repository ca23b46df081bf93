package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/fieldsync/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for sync passes
type SyncMetrics struct {
	syncDuration       metric.Float64Histogram
	recordsTransferred metric.Int64Counter
	autoSyncRuns       metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"fieldsync_sync_duration_seconds",
		metric.WithDescription("Duration of per-type sync attempts in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	recordsTransferred, err := meter.Int64Counter(
		"fieldsync_records_transferred_total",
		metric.WithDescription("Records accepted by the remote ingest endpoints"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	autoSyncRuns, err := meter.Int64Counter(
		"fieldsync_auto_sync_evaluations_total",
		metric.WithDescription("Automatic sync evaluations by outcome"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:       syncDuration,
		recordsTransferred: recordsTransferred,
		autoSyncRuns:       autoSyncRuns,
	}, nil
}

// RecordSyncAttempt records the outcome of one per-type sync attempt
func (m *SyncMetrics) RecordSyncAttempt(
	ctx context.Context, recordType string, duration time.Duration, transferred int, success bool,
) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("record_type", recordType),
		attribute.Bool("success", success),
	)
	m.syncDuration.Record(ctx, duration.Seconds(), attrs)
	if transferred > 0 {
		m.recordsTransferred.Add(ctx, int64(transferred),
			metric.WithAttributes(attribute.String("record_type", recordType)))
	}
}

// RecordAutoSyncEvaluation records why a trigger did or did not start a pass
func (m *SyncMetrics) RecordAutoSyncEvaluation(ctx context.Context, trigger, outcome string) {
	if m == nil {
		return
	}

	m.autoSyncRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	))
}
