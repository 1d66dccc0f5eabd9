package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/tenant-event-bus/internal/engine"
)

type DeadLetterHandler struct {
	bus *engine.Bus
}

func NewDeadLetterHandler(bus *engine.Bus) *DeadLetterHandler {
	return &DeadLetterHandler{bus: bus}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	letters, err := h.bus.DeadLetters(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondBusError(w, err, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

// Process redelivers every dead letter of the tenant once. Entries that fail
// again stay in the queue.
func (h *DeadLetterHandler) Process(w http.ResponseWriter, r *http.Request) {
	res, err := h.bus.ProcessDLQ(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		respondBusError(w, err, "failed to process dead letters")
		return
	}

	respondJSON(w, http.StatusOK, res)
}
