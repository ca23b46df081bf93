// Package otel provides OpenTelemetry span helpers shared by the sync engine.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on sync spans
const (
	AttrRecordType      = attribute.Key("sync.record_type")
	AttrPrincipalID     = attribute.Key("sync.principal_id")
	AttrRecordsPending  = attribute.Key("sync.records_pending")
	AttrTrigger         = attribute.Key("sync.trigger")
	AttrSyncErrorKind   = attribute.Key("sync.error_kind")
	AttrRecordsSynced   = attribute.Key("sync.records_synced")
	AttrSyncTypeCount   = attribute.Key("sync.type_count")
	AttrSyncFailedCount = attribute.Key("sync.failed_count")
)

// StartSpan starts a span when tracer is non-nil and otherwise returns the span
// already in ctx (a no-op span when there is none)
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks the span failed. The status description stays generic; the
// error itself is attached as a span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
