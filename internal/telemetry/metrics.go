package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ReconcileMetrics holds metric instruments for the reconciliation pipeline.
// All methods are safe on a nil receiver so tests can omit metrics.
type ReconcileMetrics struct {
	EventCounter     metric.Int64Counter     // events evaluated, by outcome
	ActionCounter    metric.Int64Counter     // corrective actions, by kind
	RemovedRoles     metric.Int64Counter     // confirmed role removals
	MutationFailures metric.Int64Counter     // failed mutation calls, by error kind
	SideEffectErrors metric.Int64Counter     // notifier/audit failures, by channel
	Duration         metric.Float64Histogram // per-event latency
	ActiveWorkers    metric.Int64UpDownCounter
}

// NewReconcileMetrics creates the instruments on the global meter provider.
func NewReconcileMetrics() (*ReconcileMetrics, error) {
	meter := otel.Meter("rolewarden/reconcile")

	events, err := meter.Int64Counter(
		"reconcile.event.count",
		metric.WithDescription("Membership change events evaluated"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	actions, err := meter.Int64Counter(
		"reconcile.action.count",
		metric.WithDescription("Corrective actions applied"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	removed, err := meter.Int64Counter(
		"reconcile.role.removed.count",
		metric.WithDescription("Roles removed with platform confirmation"),
		metric.WithUnit("{role}"),
	)
	if err != nil {
		return nil, err
	}

	mutationFailures, err := meter.Int64Counter(
		"reconcile.mutation.error.count",
		metric.WithDescription("Role mutation calls that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	sideEffects, err := meter.Int64Counter(
		"reconcile.side_effect.error.count",
		metric.WithDescription("Best-effort notification or audit failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"reconcile.event.duration",
		metric.WithDescription("Time to evaluate and apply one event"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000),
	)
	if err != nil {
		return nil, err
	}

	workers, err := meter.Int64UpDownCounter(
		"reconcile.worker.active",
		metric.WithDescription("Per-member workers currently alive"),
		metric.WithUnit("{worker}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		EventCounter:     events,
		ActionCounter:    actions,
		RemovedRoles:     removed,
		MutationFailures: mutationFailures,
		SideEffectErrors: sideEffects,
		Duration:         duration,
		ActiveWorkers:    workers,
	}, nil
}

// RecordEvent records one evaluated event.
func (m *ReconcileMetrics) RecordEvent(ctx context.Context, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, outcome))
	m.EventCounter.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, durationMs, attrs)
}

// RecordAction records an applied corrective action.
func (m *ReconcileMetrics) RecordAction(ctx context.Context, kind string, removed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrActionKind, kind))
	m.ActionCounter.Add(ctx, 1, attrs)
	m.RemovedRoles.Add(ctx, int64(removed), attrs)
}

// RecordMutationFailure records a failed mutation call.
func (m *ReconcileMetrics) RecordMutationFailure(ctx context.Context, errorKind string) {
	if m == nil {
		return
	}
	m.MutationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("error.kind", errorKind)))
}

// RecordSideEffectError records a notifier or audit failure.
func (m *ReconcileMetrics) RecordSideEffectError(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.SideEffectErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("side_effect", channel)))
}

// WorkerStarted increments the active worker gauge.
func (m *ReconcileMetrics) WorkerStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Add(ctx, 1)
}

// WorkerStopped decrements the active worker gauge.
func (m *ReconcileMetrics) WorkerStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Add(ctx, -1)
}
