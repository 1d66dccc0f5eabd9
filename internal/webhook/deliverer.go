// Package webhook attaches external HTTP subscribers to the event bus.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

// Headers sent with every webhook request.
const (
	HeaderSignature = "X-Event-Signature"
	HeaderEventType = "X-Event-Type"
	HeaderEventID   = "X-Event-ID"
	HeaderTenant    = "X-Event-Tenant"
	HeaderDelivery  = "X-Event-Delivery"
)

var (
	// ErrCircuitOpen is returned while an endpoint's circuit is open.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrRateLimited is returned when an endpoint's rate limit is exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// Deliverer POSTs events to subscriber endpoints. The breaker and limiter
// are optional.
type Deliverer struct {
	httpClient *http.Client
	breaker    *Breaker
	limiter    *Limiter
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer with the given request timeout.
func NewDeliverer(timeout time.Duration, breaker *Breaker, limiter *Limiter, logger *slog.Logger) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		limiter:    limiter,
		logger:     logger,
	}
}

// Breaker returns the circuit breaker, or nil when none is configured.
func (d *Deliverer) Breaker() *Breaker {
	return d.breaker
}

// Handler returns a bus handler that delivers events to sub.
func (d *Deliverer) Handler(sub domain.Subscriber) domain.Handler {
	return domain.Handler{
		Name:     sub.HandlerName(),
		TenantID: sub.TenantID,
		Invoke: func(ctx context.Context, evt domain.Event) error {
			return d.Deliver(ctx, sub, evt)
		},
	}
}

// Deliver sends evt to the subscriber endpoint, signed with its secret.
// Any non-2xx response is an error.
func (d *Deliverer) Deliver(ctx context.Context, sub domain.Subscriber, evt domain.Event) error {
	name := sub.HandlerName()

	if d.breaker != nil {
		if state, ok := d.breaker.Allow(ctx, name); !ok {
			return fmt.Errorf("%s: %w (%s)", sub.EndpointURL, ErrCircuitOpen, state)
		}
	}
	if d.limiter != nil && !d.limiter.Allow(ctx, name, sub.RateLimitPerSecond) {
		return fmt.Errorf("%s: %w", sub.EndpointURL, ErrRateLimited)
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	start := time.Now()
	status, err := d.post(ctx, sub, evt, body)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(ctx, name)
		}
		d.logger.Warn("webhook delivery failed",
			"event_id", evt.Metadata.EventID,
			"subscriber_id", sub.ID,
			"status_code", status,
			"response_time_ms", elapsed,
			"error", err,
		)
		return err
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(ctx, name)
	}
	d.logger.Debug("webhook delivered",
		"event_id", evt.Metadata.EventID,
		"subscriber_id", sub.ID,
		"status_code", status,
		"response_time_ms", elapsed,
	)
	return nil
}

func (d *Deliverer) post(ctx context.Context, sub domain.Subscriber, evt domain.Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, computeHMAC(body, sub.SecretKey))
	req.Header.Set(HeaderEventType, evt.Type)
	req.Header.Set(HeaderEventID, evt.Metadata.EventID)
	req.Header.Set(HeaderTenant, evt.Metadata.TenantID)
	req.Header.Set(HeaderDelivery, uuid.NewString())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Keep at most 1KB of the body for the error message.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return resp.StatusCode, nil
}

// computeHMAC returns the hex HMAC-SHA256 of payload under secret.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
