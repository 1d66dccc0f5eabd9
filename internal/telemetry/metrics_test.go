package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/Priya8975/tenant-event-bus/internal/engine"
)

func setupTestRecorder(t *testing.T) (*Recorder, *Exporter) {
	t.Helper()
	exp := NewExporter()
	t.Cleanup(func() {
		if err := exp.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down meter provider: %v", err)
		}
	})
	r, err := NewRecorder(exp.Provider().Meter(MeterName))
	require.NoError(t, err)
	return r, exp
}

func findPoint(points []Point, name string, attrs map[string]string) *Point {
	for i := range points {
		if points[i].Name != name {
			continue
		}
		match := true
		for k, v := range attrs {
			if points[i].Attributes[k] != v {
				match = false
				break
			}
		}
		if match {
			return &points[i]
		}
	}
	return nil
}

func TestRecorder_Counters(t *testing.T) {
	r, exp := setupTestRecorder(t)
	ctx := context.Background()

	r.RecordPublished(ctx, "acme", "lead.qualified")
	r.RecordPublished(ctx, "acme", "lead.qualified")
	r.RecordDeduplicated(ctx, "acme", "lead.qualified")
	r.RecordRejected(ctx, "acme", "lead.qualified")
	r.RecordRetry(ctx, "acme", "lead.qualified")
	r.RecordDeadLetter(ctx, "acme", "lead.qualified")

	points, err := exp.Snapshot(ctx)
	require.NoError(t, err)

	attrs := map[string]string{"tenant_id": "acme", "event_type": "lead.qualified"}
	for name, want := range map[string]float64{
		"eventbus.events.published":    2,
		"eventbus.events.deduplicated": 1,
		"eventbus.events.rejected":     1,
		"eventbus.delivery.retries":    1,
		"eventbus.dead_letters":        1,
	} {
		p := findPoint(points, name, attrs)
		require.NotNil(t, p, name)
		assert.Equal(t, want, p.Value, name)
	}
}

func TestRecorder_Delivery(t *testing.T) {
	r, exp := setupTestRecorder(t)
	ctx := context.Background()

	r.RecordDelivery(ctx, "crm", "booking.confirmed", 5*time.Millisecond, nil)
	r.RecordDelivery(ctx, "crm", "booking.confirmed", 7*time.Millisecond, errors.New("boom"))

	points, err := exp.Snapshot(ctx)
	require.NoError(t, err)

	attrs := map[string]string{"handler": "crm"}
	deliveries := findPoint(points, "eventbus.deliveries", attrs)
	require.NotNil(t, deliveries)
	assert.Equal(t, float64(2), deliveries.Value)

	errs := findPoint(points, "eventbus.delivery.errors", attrs)
	require.NotNil(t, errs)
	assert.Equal(t, float64(1), errs.Value)

	latency := findPoint(points, "eventbus.delivery.latency_ms", attrs)
	require.NotNil(t, latency)
	assert.Equal(t, uint64(2), latency.Count)
	assert.InDelta(t, 12.0, latency.Value, 0.001)
}

func TestRecorder_WiredIntoBus(t *testing.T) {
	r, exp := setupTestRecorder(t)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := engine.DefaultConfig(t.TempDir())
	cfg.HealthCheckInterval = 0
	cfg.SyncWrites = false
	bus, err := engine.New(cfg, logger, engine.WithRecorder(r))
	require.NoError(t, err)
	defer bus.Shutdown()

	_, err = bus.Subscribe("custom.event", domain.Handler{Name: "h", Invoke: func(context.Context, domain.Event) error { return nil }})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = bus.Publish(ctx, "custom.event", map[string]any{"n": 1}, domain.PublishOptions{TenantID: "acme"})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, "custom.event", map[string]any{"n": 1}, domain.PublishOptions{TenantID: "acme"})
	require.NoError(t, err)

	points, err := exp.Snapshot(ctx)
	require.NoError(t, err)

	assert.NotNil(t, findPoint(points, "eventbus.events.published", map[string]string{"tenant_id": "acme"}))
	assert.NotNil(t, findPoint(points, "eventbus.events.deduplicated", map[string]string{"tenant_id": "acme"}))
	assert.NotNil(t, findPoint(points, "eventbus.deliveries", map[string]string{"handler": "h"}))
}

func TestNewRecorder_GlobalMeter(t *testing.T) {
	r, err := NewRecorder(nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}
