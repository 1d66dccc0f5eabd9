package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

type counters struct {
	published    atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	deduplicated atomic.Int64
	retried      atomic.Int64
}

// Metrics is a point-in-time snapshot of bus counters. Counters never decrease.
type Metrics struct {
	Published    int64          `json:"published"`
	Delivered    int64          `json:"delivered"`
	Failed       int64          `json:"failed"`
	Deduplicated int64          `json:"deduplicated"`
	Retried      int64          `json:"retried"`
	CacheSize    int            `json:"cacheSize"`
	UptimeMs     int64          `json:"uptime"`
	Subscribers  map[string]int `json:"subscribers"`
}

// Health is the liveness report of a bus.
type Health struct {
	Status    string  `json:"status"`
	Service   string  `json:"service"`
	Version   string  `json:"version"`
	Metrics   Metrics `json:"metrics"`
	Timestamp string  `json:"timestamp"`
}

// Metrics returns the current counters and handler counts per event type.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	subs := make(map[string]int, len(b.subs))
	for t, list := range b.subs {
		subs[t] = len(list)
	}
	b.mu.RUnlock()

	return Metrics{
		Published:    b.counters.published.Load(),
		Delivered:    b.counters.delivered.Load(),
		Failed:       b.counters.failed.Load(),
		Deduplicated: b.counters.deduplicated.Load(),
		Retried:      b.counters.retried.Load(),
		CacheSize:    b.cache.Len(),
		UptimeMs:     b.now().Sub(b.started).Milliseconds(),
		Subscribers:  subs,
	}
}

// Health reports the bus as ok along with its metrics.
func (b *Bus) Health() Health {
	return Health{
		Status:    "ok",
		Service:   ServiceName,
		Version:   Version,
		Metrics:   b.Metrics(),
		Timestamp: b.now().UTC().Format(domain.TimestampLayout),
	}
}

// Recorder receives per-event measurements, typically for export to a
// metrics backend.
type Recorder interface {
	RecordPublished(ctx context.Context, tenantID, eventType string)
	RecordRejected(ctx context.Context, tenantID, eventType string)
	RecordDeduplicated(ctx context.Context, tenantID, eventType string)
	RecordDelivery(ctx context.Context, handler, eventType string, d time.Duration, err error)
	RecordRetry(ctx context.Context, tenantID, eventType string)
	RecordDeadLetter(ctx context.Context, tenantID, eventType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPublished(context.Context, string, string) {}
func (nopRecorder) RecordRejected(context.Context, string, string) {}
func (nopRecorder) RecordDeduplicated(context.Context, string, string) {}
func (nopRecorder) RecordDelivery(context.Context, string, string, time.Duration, error) {}
func (nopRecorder) RecordRetry(context.Context, string, string) {}
func (nopRecorder) RecordDeadLetter(context.Context, string, string) {}
