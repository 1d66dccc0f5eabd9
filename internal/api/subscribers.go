package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/Priya8975/tenant-event-bus/internal/webhook"
)

type SubscriberHandler struct {
	store    SubscriberStore
	webhooks Attacher
	breaker  *webhook.Breaker
	logger   *slog.Logger
}

func NewSubscriberHandler(s SubscriberStore, webhooks Attacher, breaker *webhook.Breaker, logger *slog.Logger) *SubscriberHandler {
	return &SubscriberHandler{store: s, webhooks: webhooks, breaker: breaker, logger: logger}
}

// requireStore answers 503 when no subscriber store is configured.
func (h *SubscriberHandler) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.store == nil {
			respondError(w, http.StatusServiceUnavailable, "subscriber store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// attach subscribes the stored subscriber to the bus. The subscriber is
// already persisted, so a failure is logged rather than returned.
func (h *SubscriberHandler) attach(sub *domain.Subscriber) {
	if h.webhooks == nil {
		return
	}
	if err := h.webhooks.Attach(*sub); err != nil {
		h.logger.Error("attaching webhook subscriber", "subscriber_id", sub.ID, "error", err)
	}
}

func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriberRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.CreateSubscriber(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscriber")
		return
	}
	h.attach(sub)

	respondJSON(w, http.StatusCreated, domain.CreateSubscriberResponse{
		ID:        sub.ID,
		Name:      sub.Name,
		SecretKey: sub.SecretKey,
	})
}

func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	subscribers, err := h.store.ListSubscribers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscribers")
		return
	}

	respondJSON(w, http.StatusOK, subscribers)
}

func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscriber(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	sub.SecretKey = ""
	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriberHandler) Health(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscriber(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	respondJSON(w, http.StatusOK, subscriberHealthOf(r, h.breaker, *sub))
}

func (h *SubscriberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriberRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.UpdateSubscriber(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	h.attach(sub)

	sub.SecretKey = ""
	respondJSON(w, http.StatusOK, sub)
}

type subscriberHealth struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Handler        string                `json:"handler"`
	EndpointURL    string                `json:"endpoint_url"`
	IsActive       bool                  `json:"is_active"`
	CircuitBreaker *webhook.BreakerState `json:"circuit_breaker,omitempty"`
}

func subscriberHealthOf(r *http.Request, breaker *webhook.Breaker, sub domain.Subscriber) subscriberHealth {
	health := subscriberHealth{
		ID:          sub.ID,
		Name:        sub.Name,
		Handler:     sub.HandlerName(),
		EndpointURL: sub.EndpointURL,
		IsActive:    sub.IsActive,
	}
	if breaker != nil {
		state := breaker.State(r.Context(), sub.HandlerName())
		health.CircuitBreaker = &state
	}
	return health
}
