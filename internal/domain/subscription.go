package domain

import "context"

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// HandlerFunc processes a delivered event. A non-nil error marks the delivery as failed.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handler is a named subscriber callback.
//
// When TenantID is set the handler only receives events published for that tenant.
type Handler struct {
	Name     string
	TenantID string
	Invoke   HandlerFunc
}

// Accepts reports whether the handler should receive events for tenantID.
func (h Handler) Accepts(tenantID string) bool {
	return h.TenantID == "" || h.TenantID == tenantID
}
