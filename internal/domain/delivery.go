package domain

// DeadLetter is a DLQ line: the original event envelope plus a dlq section.
type DeadLetter struct {
	Event
	DLQ DeadLetterInfo `json:"dlq"`
}

// DeadLetterInfo records why and when an event was dead-lettered.
type DeadLetterInfo struct {
	Error        string   `json:"error"`
	SentAt       string   `json:"sentAt"`
	AttemptCount int      `json:"attemptCount"`
	Handlers     []string `json:"handlers,omitempty"`
	RetriedAt    string   `json:"retriedAt,omitempty"`
}

// Activity kinds broadcast to live listeners.
const (
	ActivityPublished    = "event_published"
	ActivityDelivered    = "delivery_success"
	ActivityFailed       = "delivery_failed"
	ActivityRetrying     = "delivery_retrying"
	ActivityDeadLettered = "delivery_dlq"
	ActivityReplayed     = "event_replayed"
	ActivityRecovered    = "dlq_recovered"
)

// Activity is a real-time notification about bus activity.
type Activity struct {
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`
	Handler   string `json:"handler,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}
