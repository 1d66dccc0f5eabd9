package domain

import (
	"time"
)

// Subscriber is an external service receiving events over HTTP.
type Subscriber struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	EndpointURL        string    `json:"endpoint_url"`
	SecretKey          string    `json:"secret_key,omitempty"`
	TenantID           string    `json:"tenant_id,omitempty"`
	EventTypes         []string  `json:"event_types"`
	IsActive           bool      `json:"is_active"`
	RateLimitPerSecond int       `json:"rate_limit_per_second"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HandlerName is the bus handler name used for this subscriber.
func (s Subscriber) HandlerName() string {
	return "webhook:" + s.Name
}

type CreateSubscriberRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	EndpointURL string   `json:"endpoint_url" validate:"required,url"`
	TenantID    string   `json:"tenant_id,omitempty" validate:"omitempty,max=128"`
	EventTypes  []string `json:"event_types" validate:"required,min=1,dive,required"`
}

type UpdateSubscriberRequest struct {
	Name               *string  `json:"name,omitempty" validate:"omitempty,max=100"`
	EndpointURL        *string  `json:"endpoint_url,omitempty" validate:"omitempty,url"`
	EventTypes         []string `json:"event_types,omitempty" validate:"omitempty,dive,required"`
	IsActive           *bool    `json:"is_active,omitempty"`
	RateLimitPerSecond *int     `json:"rate_limit_per_second,omitempty" validate:"omitempty,min=0"`
}

type CreateSubscriberResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SecretKey string `json:"secret_key"`
}
