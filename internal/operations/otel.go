package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"stardust/pkg/contracts/domain"
)

const (
	// TracerName names the tracer and meter of this package.
	TracerName = "stardust.operations"
)

// Metrics holds the operation lifecycle instruments.
type Metrics struct {
	submitted metric.Int64Counter
	rejected  metric.Int64Counter
	completed metric.Int64Counter
	duration  metric.Float64Histogram
	active    metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter. A nil meter records nothing.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(TracerName)
	}

	submitted, err := meter.Int64Counter("stardust_operations_submitted_total",
		metric.WithDescription("Operations accepted into the queue"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("stardust_operations_rejected_total",
		metric.WithDescription("Submissions refused, by reason"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("stardust_operations_completed_total",
		metric.WithDescription("Operations that reached the done state, by outcome"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("stardust_operation_duration_seconds",
		metric.WithDescription("Run time of an operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 60, 300, 900, 3600, 14400, 86400))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("stardust_operations_running",
		metric.WithDescription("Operations currently running"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		submitted: submitted,
		rejected:  rejected,
		completed: completed,
		duration:  duration,
		active:    active,
	}, nil
}

func (m *Metrics) recordSubmitted(ctx context.Context, req domain.Request) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.Int("op_code", int(req.OpCode))))
}

func (m *Metrics) recordRejected(ctx context.Context, reason ErrorType) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *Metrics) recordStarted(ctx context.Context) {
	m.active.Add(ctx, 1)
}

func (m *Metrics) recordCompleted(ctx context.Context, elapsed time.Duration, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.active.Add(ctx, -1)
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func defaultTracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer(TracerName)
}

func operationAttributes(op *domain.Operation) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("operation.uid", op.UID),
		attribute.Int64("operation.seq", int64(op.Seq)),
		attribute.Int("operation.op_code", int(op.Request.OpCode)),
		attribute.String("operation.query", op.Request.OpQuery),
	}
}
