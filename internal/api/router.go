package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/Priya8975/tenant-event-bus/internal/engine"
	"github.com/Priya8975/tenant-event-bus/internal/telemetry"
	"github.com/Priya8975/tenant-event-bus/internal/webhook"
	ws "github.com/Priya8975/tenant-event-bus/internal/websocket"
)

// SubscriberStore persists webhook subscribers.
type SubscriberStore interface {
	CreateSubscriber(ctx context.Context, req domain.CreateSubscriberRequest) (*domain.Subscriber, error)
	GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	UpdateSubscriber(ctx context.Context, id string, req domain.UpdateSubscriberRequest) (*domain.Subscriber, error)
}

// Attacher keeps bus subscriptions in step with stored subscribers.
type Attacher interface {
	Attach(sub domain.Subscriber) error
}

// Deps are the components served by the router. Only Bus is required.
type Deps struct {
	Bus         *engine.Bus
	Subscribers SubscriberStore
	Webhooks    Attacher
	Breaker     *webhook.Breaker
	Hub         *ws.Hub
	Telemetry   *telemetry.Exporter
	Logger      *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	eventHandler := NewEventHandler(d.Bus)
	dlqHandler := NewDeadLetterHandler(d.Bus)
	subHandler := NewSubscriberHandler(d.Subscribers, d.Webhooks, d.Breaker, d.Logger)
	dashHandler := NewDashboardHandler(d.Bus, d.Subscribers, d.Breaker, d.Hub, d.Telemetry)

	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Bus))
		r.Get("/metrics", dashHandler.Metrics)
		r.Get("/telemetry", dashHandler.Telemetry)
		r.Get("/schemas", SchemasHandler(d.Bus))

		r.Post("/events", eventHandler.Publish)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Post("/replay", eventHandler.Replay)
			r.Get("/dead-letters", dlqHandler.List)
			r.Post("/dead-letters/process", dlqHandler.Process)
		})

		r.Route("/subscribers", func(r chi.Router) {
			r.Use(subHandler.requireStore)
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Get("/{id}/health", subHandler.Health)
		})
		r.With(subHandler.requireStore).Get("/subscribers-health", dashHandler.SubscriberHealth)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
