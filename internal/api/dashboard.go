package api

import (
	"net/http"

	"github.com/Priya8975/tenant-event-bus/internal/engine"
	"github.com/Priya8975/tenant-event-bus/internal/telemetry"
	"github.com/Priya8975/tenant-event-bus/internal/webhook"
	ws "github.com/Priya8975/tenant-event-bus/internal/websocket"
)

type DashboardHandler struct {
	bus       *engine.Bus
	store     SubscriberStore
	cb        *webhook.Breaker
	hub       *ws.Hub
	telemetry *telemetry.Exporter
}

func NewDashboardHandler(bus *engine.Bus, s SubscriberStore, cb *webhook.Breaker, hub *ws.Hub, exp *telemetry.Exporter) *DashboardHandler {
	return &DashboardHandler{bus: bus, store: s, cb: cb, hub: hub, telemetry: exp}
}

// Metrics returns the bus counters for the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	type metricsResponse struct {
		engine.Metrics
		WebSocketClients int `json:"websocket_clients"`
	}

	resp := metricsResponse{Metrics: h.bus.Metrics()}
	if h.hub != nil {
		resp.WebSocketClients = h.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Telemetry returns the collected OpenTelemetry data points.
func (h *DashboardHandler) Telemetry(w http.ResponseWriter, r *http.Request) {
	if h.telemetry == nil {
		respondError(w, http.StatusNotFound, "telemetry is not enabled")
		return
	}

	points, err := h.telemetry.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to collect telemetry")
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// SubscriberHealth returns health info for all subscribers including circuit breaker state.
func (h *DashboardHandler) SubscriberHealth(w http.ResponseWriter, r *http.Request) {
	subscribers, err := h.store.ListSubscribers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscribers")
		return
	}

	result := make([]subscriberHealth, 0, len(subscribers))
	for _, sub := range subscribers {
		result = append(result, subscriberHealthOf(r, h.cb, sub))
	}

	respondJSON(w, http.StatusOK, result)
}
