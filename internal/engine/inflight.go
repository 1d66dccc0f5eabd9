package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

// inflightKey is one handler registration working on one event.
type inflightKey struct {
	sub     *subscription
	eventID string
}

// inflightCall is a handler invocation that can outlive the wait for it.
// err and finishedAt are set before done is closed.
type inflightCall struct {
	done       chan struct{}
	err        error
	finishedAt time.Time
}

func (c *inflightCall) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// call runs one handler. Panics become errors and HandlerTimeout bounds the
// wait.
//
// A timed-out invocation keeps running and stays registered. Later calls for
// the same registration and event wait on it instead of invoking the handler
// again, so a handler never runs twice at once for one event. When reuse is
// set a success that finished after its timeout is taken as the result of
// this call without invoking the handler again.
func (b *Bus) call(ctx context.Context, sub *subscription, evt domain.Event, reuse bool) error {
	if b.cfg.HandlerTimeout <= 0 {
		return invoke(ctx, sub.handler, evt)
	}
	key := inflightKey{sub: sub, eventID: evt.Metadata.EventID}

	b.callsMu.Lock()
	c, ok := b.calls[key]
	if ok && c.finished() {
		delete(b.calls, key)
		ok = false
		if reuse && c.err == nil {
			b.callsMu.Unlock()
			b.logger.Info("using handler result that finished after timeout",
				"event_id", evt.Metadata.EventID,
				"handler", sub.handler.Name,
			)
			return nil
		}
	}
	if !ok {
		c = b.startCall(ctx, sub.handler, evt)
		b.calls[key] = c
	}
	b.callsMu.Unlock()

	timer := time.NewTimer(b.cfg.HandlerTimeout)
	defer timer.Stop()

	select {
	case <-c.done:
		b.callsMu.Lock()
		if b.calls[key] == c {
			delete(b.calls, key)
		}
		b.callsMu.Unlock()
		return c.err
	case <-timer.C:
		return fmt.Errorf("handler timed out after %s", b.cfg.HandlerTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("handler timed out: %w", ctx.Err())
		}
		return ctx.Err()
	}
}

func (b *Bus) startCall(ctx context.Context, h domain.Handler, evt domain.Event) *inflightCall {
	c := &inflightCall{done: make(chan struct{})}
	ictx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
	go func() {
		defer cancel()
		err := invoke(ictx, h, evt)
		c.err = err
		c.finishedAt = b.now()
		close(c.done)
	}()
	return c
}

// sweepCalls forgets finished calls whose result nobody collected within the
// id retention period of the idempotency cache.
func (b *Bus) sweepCalls() int {
	cutoff := b.now().Add(-idRetentionFactor * b.cfg.IdempotencyWindow)

	b.callsMu.Lock()
	defer b.callsMu.Unlock()

	removed := 0
	for key, c := range b.calls {
		if c.finished() && !c.finishedAt.After(cutoff) {
			delete(b.calls, key)
			removed++
		}
	}
	return removed
}

// inflightCalls returns the number of tracked handler calls.
func (b *Bus) inflightCalls() int {
	b.callsMu.Lock()
	defer b.callsMu.Unlock()
	return len(b.calls)
}
