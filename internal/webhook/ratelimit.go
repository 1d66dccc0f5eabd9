package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, then admits the call if the remaining count
// is under the limit.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// Limiter is a Redis sliding-window rate limiter keyed by handler name.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
	window time.Duration
}

// NewLimiter creates a limiter counting calls per window.
func NewLimiter(client *redis.Client, window time.Duration, logger *slog.Logger) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{client: client, logger: logger, window: window}
}

func limiterKey(name string) string {
	return "eventbus:rl:" + name
}

// Allow reports whether another call to the endpoint fits in the current
// window. limit <= 0 disables limiting and Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, name string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now()
	allowed, err := slidingWindow.Run(ctx, l.client, []string{limiterKey(name)},
		now.UnixMilli(), l.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		l.logger.Error("rate limiter script failed", "handler", name, "error", err)
		return true
	}
	if allowed == 0 {
		l.logger.Debug("rate limited", "handler", name, "limit", limit)
		return false
	}
	return true
}
