// Package engine implements the tenant-scoped event bus: validation,
// idempotent publish, durable append, ordered fan-out with fixed-delay retry,
// dead-lettering, replay and DLQ reprocessing.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/Priya8975/tenant-event-bus/internal/schema"
	"github.com/Priya8975/tenant-event-bus/internal/store"
)

const (
	// DefaultTenant receives events published without a tenant ID.
	DefaultTenant = "agency_internal"
	// SystemTenant receives the bus's own health events.
	SystemTenant = "system"
	// DefaultPriority is stamped on events published without a priority.
	DefaultPriority = "normal"
	// ServiceName identifies the bus in health reports and events it publishes.
	ServiceName = "EventBus"
	// Version is reported by Health.
	Version = "1.0.0"
)

// Config controls bus behavior.
type Config struct {
	StorageDir            string
	HealthCheckInterval   time.Duration
	RetryDelay            time.Duration
	MaxRetries            int
	IdempotencyWindow     time.Duration
	IdempotencyMaxEntries int
	HandlerTimeout        time.Duration // 0 disables the per-handler timeout
	SyncWrites            bool
	PublishHealthEvents   bool
}

// DefaultConfig returns the standard settings for a bus rooted at storageDir.
func DefaultConfig(storageDir string) Config {
	return Config{
		StorageDir:            storageDir,
		HealthCheckInterval:   30 * time.Second,
		RetryDelay:            time.Second,
		MaxRetries:            3,
		IdempotencyWindow:     time.Minute,
		IdempotencyMaxEntries: 10000,
		HandlerTimeout:        30 * time.Second,
		SyncWrites:            true,
		PublishHealthEvents:   true,
	}
}

// Notifier receives live activity notifications. Notify must not block.
type Notifier interface {
	Notify(domain.Activity)
}

// Option customizes a Bus.
type Option func(*Bus)

// WithRegistry replaces the default schema registry.
func WithRegistry(r *schema.Registry) Option {
	return func(b *Bus) { b.registry = r }
}

// WithNotifier streams activity to n.
func WithNotifier(n Notifier) Option {
	return func(b *Bus) { b.notifier = n }
}

// WithRecorder reports bus measurements to r.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// Bus is a single-process event bus. It is the only writer of its storage directory.
type Bus struct {
	cfg      Config
	logger   *slog.Logger
	registry *schema.Registry
	journal  *store.Journal
	cache    *IdempotencyCache
	notifier Notifier
	recorder Recorder
	now      func() time.Time
	started  time.Time

	mu   sync.RWMutex
	subs map[string][]*subscription

	callsMu sync.Mutex
	calls   map[inflightKey]*inflightCall

	dlqMu    sync.Mutex
	dlqLocks map[string]*sync.Mutex

	counters counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type subscription struct {
	eventType string
	handler   domain.Handler
}

// New creates a bus and starts its health tick.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Bus, error) {
	if cfg.StorageDir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay < 0 || cfg.IdempotencyWindow < 0 || cfg.HandlerTimeout < 0 || cfg.HealthCheckInterval < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}

	b := &Bus{
		cfg:      cfg,
		logger:   logger,
		registry: schema.NewRegistry(),
		notifier: nopNotifier{},
		recorder: nopRecorder{},
		now:      time.Now,
		subs:     make(map[string][]*subscription),
		calls:    make(map[inflightKey]*inflightCall),
		dlqLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.started = b.now()
	b.journal = store.NewJournal(cfg.StorageDir, cfg.SyncWrites, logger)
	b.cache = NewIdempotencyCache(cfg.IdempotencyWindow, cfg.IdempotencyMaxEntries, b.now)
	b.ctx, b.cancel = context.WithCancel(context.Background())

	if cfg.HealthCheckInterval > 0 {
		b.wg.Add(1)
		go b.healthLoop()
	}

	logger.Info("event bus started",
		"storage_dir", cfg.StorageDir,
		"max_retries", cfg.MaxRetries,
		"retry_delay", cfg.RetryDelay,
		"idempotency_window", cfg.IdempotencyWindow,
	)
	return b, nil
}

// Registry returns the schema registry used for validation.
func (b *Bus) Registry() *schema.Registry {
	return b.registry
}

// Journal returns the underlying event store.
func (b *Bus) Journal() *store.Journal {
	return b.journal
}

// Publish validates, deduplicates, persists and delivers one event.
//
// Validation failures and duplicates are reported in the result, not as
// errors. An error means the event could not be persisted, in which case no
// handler was called, or that a failed delivery could not be written to the
// DLQ, in which case the result still reports the event as published.
func (b *Bus) Publish(ctx context.Context, eventType string, payload map[string]any, opts domain.PublishOptions) (domain.PublishResult, error) {
	if b.closed.Load() {
		return domain.PublishResult{}, ErrBusClosed
	}
	if eventType == "" {
		return domain.PublishResult{}, ErrEmptyEventType
	}

	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	if err := store.ValidateTenant(tenantID); err != nil {
		return domain.PublishResult{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}

	eventID := opts.EventID
	if eventID == "" {
		eventID = GenerateEventID(tenantID, eventType, payload)
	}

	if res := b.registry.Validate(eventType, payload); !res.Valid {
		b.recorder.RecordRejected(ctx, tenantID, eventType)
		b.logger.Warn("event rejected", "event_type", eventType, "tenant_id", tenantID, "reason", res.Error)
		return domain.PublishResult{Published: false, Reason: res.Error}, nil
	}

	if b.cache.IsDuplicate(eventID, tenantID, eventType, payload) {
		b.counters.deduplicated.Add(1)
		b.recorder.RecordDeduplicated(ctx, tenantID, eventType)
		b.logger.Debug("duplicate event suppressed", "event_id", eventID, "event_type", eventType, "tenant_id", tenantID)
		return domain.PublishResult{Published: false, EventID: eventID, Reason: domain.ReasonDuplicate}, nil
	}

	now := b.now().UTC()
	evt := domain.Event{
		Type:    eventType,
		Payload: payload,
		Metadata: domain.Metadata{
			TenantID:      tenantID,
			EventID:       eventID,
			Timestamp:     now.Format(domain.TimestampLayout),
			Source:        opts.Source,
			CorrelationID: opts.CorrelationID,
			Priority:      opts.Priority,
		},
	}
	if evt.Metadata.CorrelationID == "" {
		evt.Metadata.CorrelationID = eventID
	}
	if evt.Metadata.Priority == "" {
		evt.Metadata.Priority = DefaultPriority
	}

	if err := b.journal.Append(tenantID, now, evt); err != nil {
		b.cache.Forget(eventID, tenantID, eventType, payload)
		b.logger.Error("failed to persist event", "event_id", eventID, "tenant_id", tenantID, "error", err)
		return domain.PublishResult{}, fmt.Errorf("persisting event: %w", err)
	}
	b.counters.published.Add(1)
	b.recorder.RecordPublished(ctx, tenantID, eventType)
	b.notify(domain.ActivityPublished, evt, "", 0, nil)

	if err := b.deliver(ctx, evt); err != nil {
		return domain.PublishResult{Published: true, EventID: eventID}, err
	}
	return domain.PublishResult{Published: true, EventID: eventID}, nil
}

// Subscribe registers h for eventType, or for every type when eventType is
// domain.Wildcard. Handlers for a type run in registration order, followed by
// wildcard handlers. The returned func removes exactly this registration.
func (b *Bus) Subscribe(eventType string, h domain.Handler) (func(), error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	if h.Invoke == nil {
		return nil, ErrNilHandler
	}
	if h.Name == "" {
		h.Name = "anonymous"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	sub := &subscription{eventType: eventType, handler: h}
	b.subs[eventType] = append(b.subs[eventType], sub)

	b.logger.Debug("handler subscribed", "event_type", eventType, "handler", h.Name)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub) })
	}, nil
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, ok := b.subs[sub.eventType]
	if !ok {
		return
	}
	for i, s := range list {
		if s == sub {
			kept := make([]*subscription, 0, len(list)-1)
			kept = append(kept, list[:i]...)
			kept = append(kept, list[i+1:]...)
			b.subs[sub.eventType] = kept
			b.logger.Debug("handler unsubscribed", "event_type", sub.eventType, "handler", sub.handler.Name)
			return
		}
	}
}

// targets returns the registrations that receive evt, in delivery order.
func (b *Bus) targets(evt domain.Event) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*subscription
	for _, s := range b.subs[evt.Type] {
		if s.handler.Accepts(evt.Metadata.TenantID) {
			out = append(out, s)
		}
	}
	if evt.Type != domain.Wildcard {
		for _, s := range b.subs[domain.Wildcard] {
			if s.handler.Accepts(evt.Metadata.TenantID) {
				out = append(out, s)
			}
		}
	}
	return out
}

// Shutdown stops the health tick, cancels pending retry delays, removes every
// subscription and closes open files. Calling it again is a no-op.
func (b *Bus) Shutdown() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	err := b.journal.Close()
	b.logger.Info("event bus shut down")
	return err
}

func (b *Bus) healthLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.healthTick()
		}
	}
}

// healthTick sweeps the idempotency cache and optionally publishes a
// system.health_check event.
func (b *Bus) healthTick() {
	start := time.Now()
	removed := b.cache.Sweep()
	if removed > 0 {
		b.logger.Debug("idempotency cache swept", "removed", removed)
	}
	if n := b.sweepCalls(); n > 0 {
		b.logger.Debug("finished handler calls swept", "removed", n)
	}
	if !b.cfg.PublishHealthEvents || b.closed.Load() {
		return
	}

	m := b.Metrics()
	payload := map[string]any{
		"component": ServiceName,
		"status":    "healthy",
		"latencyMs": time.Since(start).Milliseconds(),
		"metrics": map[string]any{
			"published":    m.Published,
			"delivered":    m.Delivered,
			"failed":       m.Failed,
			"deduplicated": m.Deduplicated,
			"retried":      m.Retried,
		},
		"subscribers": len(m.Subscribers),
		"cacheSize":   m.CacheSize,
		"checkedAt":   b.now().UTC().Format(domain.TimestampLayout),
	}
	_, err := b.Publish(b.ctx, "system.health_check", payload, domain.PublishOptions{
		TenantID: SystemTenant,
		Source:   ServiceName,
	})
	if err != nil && b.ctx.Err() == nil {
		b.logger.Error("failed to publish health check", "error", err)
	}
}

func (b *Bus) notify(kind string, evt domain.Event, handler string, attempt int, err error) {
	a := domain.Activity{
		Type:      kind,
		EventID:   evt.Metadata.EventID,
		TenantID:  evt.Metadata.TenantID,
		EventType: evt.Type,
		Handler:   handler,
		Attempt:   attempt,
		Timestamp: b.now().UTC().Format(domain.TimestampLayout),
	}
	if err != nil {
		a.Error = err.Error()
	}
	b.notifier.Notify(a)
}

type nopNotifier struct{}

func (nopNotifier) Notify(domain.Activity) {}
