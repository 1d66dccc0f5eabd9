package domain

// TimestampLayout is the millisecond-precision UTC layout used for metadata timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is the envelope persisted as one line of a tenant's JSONL log.
type Event struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Metadata Metadata       `json:"metadata"`
}

// Metadata carries identity and routing details for an event.
type Metadata struct {
	TenantID      string `json:"tenantId"`
	EventID       string `json:"eventId"`
	Timestamp     string `json:"timestamp"`
	Source        string `json:"source,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Priority      string `json:"priority,omitempty"`
}

// PublishOptions controls how an event is published.
type PublishOptions struct {
	TenantID      string
	EventID       string
	Source        string
	CorrelationID string
	Priority      string
}

// PublishResult reports the outcome of a publish call.
// Reason is "duplicate" for deduplicated events and "Missing field: <name>" for
// validation failures.
type PublishResult struct {
	Published bool   `json:"published"`
	EventID   string `json:"event_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Duplicate reports whether the event was suppressed by the idempotency cache.
// Callers should treat duplicates as success.
func (r PublishResult) Duplicate() bool {
	return !r.Published && r.Reason == ReasonDuplicate
}

// ReasonDuplicate is the PublishResult.Reason for deduplicated events.
const ReasonDuplicate = "duplicate"
