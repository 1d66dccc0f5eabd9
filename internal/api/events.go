package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/Priya8975/tenant-event-bus/internal/engine"
	"github.com/Priya8975/tenant-event-bus/internal/store"
)

type EventHandler struct {
	bus *engine.Bus
}

func NewEventHandler(bus *engine.Bus) *EventHandler {
	return &EventHandler{bus: bus}
}

type publishRequest struct {
	EventType     string         `json:"event_type" validate:"required"`
	Payload       map[string]any `json:"payload"`
	TenantID      string         `json:"tenant_id,omitempty"`
	EventID       string         `json:"event_id,omitempty"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      string         `json:"priority,omitempty"`
}

type replayRequest struct {
	EventTypes []string `json:"event_types,omitempty" validate:"omitempty,dive,required"`
	Since      string   `json:"since,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Until      string   `json:"until,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Publish answers 201 for a published event, 200 for a duplicate and 422 when
// the payload misses a required field.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.bus.Publish(r.Context(), req.EventType, req.Payload, domain.PublishOptions{
		TenantID:      req.TenantID,
		EventID:       req.EventID,
		Source:        req.Source,
		CorrelationID: req.CorrelationID,
		Priority:      req.Priority,
	})
	if err != nil {
		respondBusError(w, err, "failed to publish event")
		return
	}

	switch {
	case res.Published:
		respondJSON(w, http.StatusCreated, res)
	case res.Duplicate():
		respondJSON(w, http.StatusOK, res)
	default:
		respondJSON(w, http.StatusUnprocessableEntity, res)
	}
}

// Replay redelivers a tenant's persisted events to the current handlers.
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := decodeBody(r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.bus.Replay(r.Context(), chi.URLParam(r, "tenantID"), engine.ReplayOptions{
		EventTypes: req.EventTypes,
		Since:      req.Since,
		Until:      req.Until,
	})
	if err != nil {
		respondBusError(w, err, "failed to replay events")
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// respondBusError maps bus errors to status codes. Anything unrecognised is
// an I/O failure reported as message.
func respondBusError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, engine.ErrBusClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrInvalidTenant),
		errors.Is(err, engine.ErrInvalidDay),
		errors.Is(err, engine.ErrEmptyEventType):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, message)
	}
}
