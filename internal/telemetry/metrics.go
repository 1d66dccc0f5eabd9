// Package telemetry exports event bus measurements through OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Priya8975/tenant-event-bus/internal/engine"
)

// MeterName scopes every instrument created by this package.
const MeterName = "tenant-event-bus"

// Recorder implements engine.Recorder with OTel instruments.
type Recorder struct {
	published       metric.Int64Counter
	rejected        metric.Int64Counter
	deduplicated    metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveryErrors  metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	retries         metric.Int64Counter
	deadLetters     metric.Int64Counter
}

var _ engine.Recorder = (*Recorder)(nil)

// NewRecorder creates the bus instruments on meter. A nil meter uses the
// global meter provider.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	r := &Recorder{}
	var err error

	if r.published, err = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Events persisted to a tenant log"),
	); err != nil {
		return nil, err
	}
	if r.rejected, err = meter.Int64Counter("eventbus.events.rejected",
		metric.WithDescription("Events that failed schema validation"),
	); err != nil {
		return nil, err
	}
	if r.deduplicated, err = meter.Int64Counter("eventbus.events.deduplicated",
		metric.WithDescription("Events suppressed by the idempotency cache"),
	); err != nil {
		return nil, err
	}
	if r.deliveries, err = meter.Int64Counter("eventbus.deliveries",
		metric.WithDescription("Handler invocations"),
	); err != nil {
		return nil, err
	}
	if r.deliveryErrors, err = meter.Int64Counter("eventbus.delivery.errors",
		metric.WithDescription("Handler invocations that returned an error"),
	); err != nil {
		return nil, err
	}
	if r.deliveryLatency, err = meter.Float64Histogram("eventbus.delivery.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if r.retries, err = meter.Int64Counter("eventbus.delivery.retries",
		metric.WithDescription("Retry rounds"),
	); err != nil {
		return nil, err
	}
	if r.deadLetters, err = meter.Int64Counter("eventbus.dead_letters",
		metric.WithDescription("Events written to a DLQ"),
	); err != nil {
		return nil, err
	}
	return r, nil
}

func eventAttrs(tenantID, eventType string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("event_type", eventType),
	)
}

func (r *Recorder) RecordPublished(ctx context.Context, tenantID, eventType string) {
	r.published.Add(ctx, 1, eventAttrs(tenantID, eventType))
}

func (r *Recorder) RecordRejected(ctx context.Context, tenantID, eventType string) {
	r.rejected.Add(ctx, 1, eventAttrs(tenantID, eventType))
}

func (r *Recorder) RecordDeduplicated(ctx context.Context, tenantID, eventType string) {
	r.deduplicated.Add(ctx, 1, eventAttrs(tenantID, eventType))
}

// RecordDelivery counts one handler invocation and its latency.
func (r *Recorder) RecordDelivery(ctx context.Context, handler, eventType string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("handler", handler),
		attribute.String("event_type", eventType),
	)
	r.deliveries.Add(ctx, 1, attrs)
	r.deliveryLatency.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if err != nil {
		r.deliveryErrors.Add(ctx, 1, attrs)
	}
}

func (r *Recorder) RecordRetry(ctx context.Context, tenantID, eventType string) {
	r.retries.Add(ctx, 1, eventAttrs(tenantID, eventType))
}

func (r *Recorder) RecordDeadLetter(ctx context.Context, tenantID, eventType string) {
	r.deadLetters.Add(ctx, 1, eventAttrs(tenantID, eventType))
}
