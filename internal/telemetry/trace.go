package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerReconcile is the tracer name used by the reconciliation core.
const TracerReconcile = "rolewarden/reconcile"

// StartSpan creates a new span for an operation.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerReconcile, "reconcile.Event",
//	    attribute.String(telemetry.AttrMemberID, member.String()),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	AttrMemberID     = "member.id"
	AttrEventID      = "event.id"
	AttrActionID     = "action.id"
	AttrActionKind   = "action.kind"
	AttrRemovedCount = "action.removed_count"
	AttrGroup        = "policy.group"
	AttrTieBreak     = "policy.tie_break"
	AttrOutcome      = "reconcile.outcome"
)
