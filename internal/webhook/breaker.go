package webhook

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// BreakerState is the circuit of one webhook endpoint.
type BreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

// Breaker is a Redis-backed circuit breaker keyed by handler name.
//
// closed counts failures and opens at the threshold. open rejects calls until
// the cooldown has passed, then lets one trial call through as half-open. A trial
// success closes the circuit and a trial failure opens it again.
type Breaker struct {
	client    *redis.Client
	logger    *slog.Logger
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a breaker. threshold <= 0 and cooldown <= 0 fall back to
// 5 failures and 30 seconds.
func NewBreaker(client *redis.Client, threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		client:    client,
		logger:    logger,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func breakerKey(name string) string {
	return "eventbus:cb:" + name
}

// cooledDown reports whether an open circuit may be tried again.
func (b *Breaker) cooledDown(lastFailedAt int64) bool {
	return b.now().Unix()-lastFailedAt >= int64(b.cooldown.Seconds())
}

// Allow reports whether a call to the endpoint may proceed, moving an open
// circuit to half-open once its cooldown has passed. Redis errors fail open.
func (b *Breaker) Allow(ctx context.Context, name string) (string, bool) {
	key := breakerKey(name)

	data, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		b.logger.Error("reading circuit state", "handler", name, "error", err)
		return StateClosed, true
	}

	switch data["state"] {
	case StateOpen:
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if !b.cooledDown(lastFailedAt) {
			return StateOpen, false
		}
		b.client.HSet(ctx, key, "state", StateHalfOpen)
		b.logger.Info("circuit half-open", "handler", name)
		return StateHalfOpen, true
	case StateHalfOpen:
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

// RecordSuccess closes the circuit and clears its failure count.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) {
	key := breakerKey(name)

	prev, _ := b.client.HGet(ctx, key, "state").Result()
	b.client.HSet(ctx, key, "state", StateClosed, "failures", 0)

	if prev == StateHalfOpen {
		b.logger.Info("circuit closed after trial call", "handler", name)
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold or
// immediately when a half-open trial call fails.
func (b *Breaker) RecordFailure(ctx context.Context, name string) {
	key := breakerKey(name)

	failures, err := b.client.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		b.logger.Error("recording circuit failure", "handler", name, "error", err)
		return
	}
	b.client.HSet(ctx, key, "last_failed_at", b.now().Unix())

	state, _ := b.client.HGet(ctx, key, "state").Result()
	switch {
	case state == StateHalfOpen:
		b.client.HSet(ctx, key, "state", StateOpen)
		b.logger.Warn("circuit re-opened, trial call failed", "handler", name)
	case failures >= int64(b.threshold):
		b.client.HSet(ctx, key, "state", StateOpen)
		b.logger.Warn("circuit opened",
			"handler", name,
			"failures", failures,
			"threshold", b.threshold,
		)
	case state == "":
		b.client.HSet(ctx, key, "state", StateClosed)
	}
}

// State returns the circuit of one endpoint without changing it. An open
// circuit past its cooldown is reported as half-open.
func (b *Breaker) State(ctx context.Context, name string) BreakerState {
	data, err := b.client.HGetAll(ctx, breakerKey(name)).Result()
	if err != nil || len(data) == 0 {
		return BreakerState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	state := data["state"]
	if state == "" {
		state = StateClosed
	}
	if state == StateOpen && b.cooledDown(lastFailedAt) {
		state = StateHalfOpen
	}

	out := BreakerState{State: state, Failures: failures}
	if lastFailedAt > 0 {
		out.LastFailedAt = time.Unix(lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return out
}
