package api

import (
	"net/http"

	"github.com/Priya8975/tenant-event-bus/internal/engine"
)

// HealthHandler returns the health check handler.
func HealthHandler(bus *engine.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, bus.Health())
	}
}

// SchemasHandler lists the required fields of every registered event type.
func SchemasHandler(bus *engine.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, bus.Registry().All())
	}
}
