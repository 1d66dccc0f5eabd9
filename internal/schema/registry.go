// Package schema holds the event type registry used to validate payloads.
//
// Validation is presence-only: a known type requires every listed field to be
// present with a non-nil value. Types without a schema always validate.
package schema

import (
	"sort"
	"sync"
)

// Result is the outcome of validating a payload.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

var defaultSchemas = map[string][]string{
	"lead.qualified":                     {"sessionId", "score", "status"},
	"lead.scored":                        {"sessionId", "score", "breakdown"},
	"lead.converted":                     {"sessionId", "customerId", "value"},
	"booking.requested":                  {"sessionId", "service", "preferredDate"},
	"booking.confirmed":                  {"bookingId", "date", "time"},
	"booking.cancelled":                  {"bookingId", "reason"},
	"payment.initiated":                  {"transactionId", "amount", "currency"},
	"payment.completed":                  {"transactionId", "amount", "method"},
	"payment.failed":                     {"transactionId", "error", "code"},
	"campaign.triggered":                 {"campaignId", "trigger", "targetCount"},
	"campaign.sent":                      {"campaignId", "sentCount", "channel"},
	"voice.session_start":                {"sessionId", "language", "persona"},
	"voice.session_end":                  {"sessionId", "duration", "outcome"},
	"voice.qualification_updated":        {"sessionId", "score", "delta"},
	"system.health_check":                {"component", "status", "latencyMs"},
	"system.error":                       {"component", "error", "severity"},
	"system.recovery":                    {"component", "action", "success"},
	"system.capacity_update":             {"sector", "utilization"},
	"error_science.rules_updated":        {"ruleCount", "bySector", "avgConfidence"},
	"revenue_science.pricing_calculated": {"sector", "priceEur", "confidence"},
	"kb.enrichment_completed":            {"factsProcessed", "totalChunks"},
	"learning.fact_approved":             {"factId", "type", "confidence"},
	"learning.fact_rejected":             {"factId", "type", "reason"},
}

// Defaults returns a copy of the built-in schemas.
func Defaults() map[string][]string {
	out := make(map[string][]string, len(defaultSchemas))
	for t, fields := range defaultSchemas {
		out[t] = append([]string(nil), fields...)
	}
	return out
}

// Registry maps event types to their required field names.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string][]string
}

// NewRegistry creates a registry seeded with the built-in schemas.
func NewRegistry() *Registry {
	return &Registry{schemas: Defaults()}
}

// Register adds or replaces the required fields for an event type.
func (r *Registry) Register(eventType string, fields []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[eventType] = append([]string(nil), fields...)
}

// Fields returns the required fields for eventType and whether it is known.
func (r *Registry) Fields(eventType string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields, ok := r.schemas[eventType]
	if !ok {
		return nil, false
	}
	return append([]string(nil), fields...), true
}

// Types returns the registered event types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// All returns a copy of every registered schema.
func (r *Registry) All() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.schemas))
	for t, fields := range r.schemas {
		out[t] = append([]string(nil), fields...)
	}
	return out
}

// Validate checks that payload carries every field required by eventType.
// The first missing field, in schema order, is reported.
func (r *Registry) Validate(eventType string, payload map[string]any) Result {
	fields, ok := r.Fields(eventType)
	if !ok {
		return Result{Valid: true}
	}
	for _, field := range fields {
		if v, present := payload[field]; !present || v == nil {
			return Result{Valid: false, Error: "Missing field: " + field}
		}
	}
	return Result{Valid: true}
}
