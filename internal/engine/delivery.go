package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

// deliver fans evt out to its handlers, retries the failed ones as a group
// with a fixed delay, and dead-letters the event if any handler still fails.
// The returned error is non-nil only when the DLQ write fails.
func (b *Bus) deliver(ctx context.Context, evt domain.Event) error {
	pending := b.targets(evt)
	if len(pending) == 0 {
		return nil
	}

	// Retry waits stop on caller cancellation or shutdown.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	attempt := 0
	var lastErr *DeliveryError
	operation := func() error {
		if attempt > 0 {
			b.counters.retried.Add(1)
			b.recorder.RecordRetry(rctx, evt.Metadata.TenantID, evt.Type)
		}
		still, failures := b.deliverRound(rctx, pending, evt, attempt, true)
		attempt++
		if len(failures) == 0 {
			return nil
		}
		pending = still
		lastErr = &DeliveryError{EventID: evt.Metadata.EventID, EventType: evt.Type, Failures: failures}
		return lastErr
	}

	// attempt already counts the failed round; retrying activity carries the
	// attempt about to run.
	notify := func(err error, wait time.Duration) {
		b.logger.Warn("delivery failed, retrying",
			"event_id", evt.Metadata.EventID,
			"event_type", evt.Type,
			"tenant_id", evt.Metadata.TenantID,
			"attempt", attempt-1,
			"next_attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
		for _, s := range pending {
			b.notify(domain.ActivityRetrying, evt, s.handler.Name, attempt, err)
		}
	}

	if err := backoff.RetryNotify(operation, b.retryPolicy(rctx), notify); err == nil {
		return nil
	}
	return b.deadLetter(evt, lastErr, attempt)
}

// retryPolicy is a constant delay between rounds, capped at MaxRetries retries.
func (b *Bus) retryPolicy(ctx context.Context) backoff.BackOff {
	if b.cfg.MaxRetries == 0 {
		return &backoff.StopBackOff{}
	}
	constant := backoff.NewConstantBackOff(b.cfg.RetryDelay)
	return backoff.WithContext(backoff.WithMaxRetries(constant, uint64(b.cfg.MaxRetries)), ctx)
}

func (b *Bus) deadLetter(evt domain.Event, derr *DeliveryError, attempts int) error {
	dl := domain.DeadLetter{
		Event: evt,
		DLQ: domain.DeadLetterInfo{
			Error:        derr.Error(),
			SentAt:       b.now().UTC().Format(domain.TimestampLayout),
			AttemptCount: attempts,
			Handlers:     derr.Handlers(),
		},
	}
	b.counters.failed.Add(1)
	b.recorder.RecordDeadLetter(context.Background(), evt.Metadata.TenantID, evt.Type)

	if err := b.journal.AppendDeadLetter(evt.Metadata.TenantID, dl); err != nil {
		b.logger.Error("failed to write dead letter",
			"event_id", evt.Metadata.EventID,
			"tenant_id", evt.Metadata.TenantID,
			"error", err,
		)
		return fmt.Errorf("writing dead letter: %w", err)
	}

	b.logger.Error("event dead-lettered",
		"event_id", evt.Metadata.EventID,
		"event_type", evt.Type,
		"tenant_id", evt.Metadata.TenantID,
		"attempts", attempts,
		"handlers", dl.DLQ.Handlers,
		"error", dl.DLQ.Error,
	)
	for _, name := range dl.DLQ.Handlers {
		b.notify(domain.ActivityDeadLettered, evt, name, attempts, derr)
	}
	return nil
}

// deliverRound calls each handler once, in order, and returns the
// registrations that failed with their errors. A failing handler does not
// stop the round. See call for reuse.
func (b *Bus) deliverRound(ctx context.Context, subs []*subscription, evt domain.Event, attempt int, reuse bool) ([]*subscription, []HandlerFailure) {
	var failed []*subscription
	var failures []HandlerFailure
	for _, s := range subs {
		h := s.handler
		start := time.Now()
		err := b.call(ctx, s, evt, reuse)
		b.recorder.RecordDelivery(ctx, h.Name, evt.Type, time.Since(start), err)

		if err != nil {
			failed = append(failed, s)
			failures = append(failures, HandlerFailure{Handler: h.Name, Attempt: attempt, Err: err})
			b.logger.Warn("handler failed",
				"event_id", evt.Metadata.EventID,
				"event_type", evt.Type,
				"handler", h.Name,
				"attempt", attempt,
				"error", err,
			)
			b.notify(domain.ActivityFailed, evt, h.Name, attempt, err)
			continue
		}

		b.counters.delivered.Add(1)
		b.logger.Debug("handler succeeded",
			"event_id", evt.Metadata.EventID,
			"event_type", evt.Type,
			"handler", h.Name,
			"attempt", attempt,
		)
		b.notify(domain.ActivityDelivered, evt, h.Name, attempt, nil)
	}
	return failed, failures
}

func invoke(ctx context.Context, h domain.Handler, evt domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Invoke(ctx, evt)
}
