package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/Priya8975/tenant-event-bus/internal/store"
)

// DLQResult counts the outcome of reprocessing a tenant's dead letters.
type DLQResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
}

// DeadLetters returns the entries currently held in a tenant's DLQ.
func (b *Bus) DeadLetters(tenantID string) ([]domain.DeadLetter, error) {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	batch, err := b.journal.ReadDeadLetters(tenantID)
	if err != nil {
		return nil, err
	}
	if batch.Entries == nil {
		return []domain.DeadLetter{}, nil
	}
	return batch.Entries, nil
}

// dlqLock returns the mutex serializing DLQ reprocessing for a tenant.
func (b *Bus) dlqLock(tenantID string) *sync.Mutex {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	l, ok := b.dlqLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		b.dlqLocks[tenantID] = l
	}
	return l
}

// ProcessDLQ makes one delivery round for every dead letter of a tenant
// against the handlers registered now. Entries whose handlers all succeed are
// removed, including entries whose event no handler receives any more. The
// rest are kept with an updated error, retriedAt and attemptCount. The DLQ
// file is deleted once empty. Runs for the same tenant are serialized.
func (b *Bus) ProcessDLQ(ctx context.Context, tenantID string) (DLQResult, error) {
	var res DLQResult
	if b.closed.Load() {
		return res, ErrBusClosed
	}
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	if err := store.ValidateTenant(tenantID); err != nil {
		return res, err
	}

	lock := b.dlqLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	batch, err := b.journal.ReadDeadLetters(tenantID)
	if err != nil {
		return res, fmt.Errorf("reading dlq: %w", err)
	}
	if len(batch.Entries) == 0 && batch.Skipped == 0 {
		return res, nil
	}

	var keep []domain.DeadLetter
	for _, dl := range batch.Entries {
		res.Processed++
		attempt := dl.DLQ.AttemptCount

		_, failures := b.deliverRound(ctx, b.targets(dl.Event), dl.Event, attempt, true)
		if len(failures) == 0 {
			res.Succeeded++
			b.notify(domain.ActivityRecovered, dl.Event, "", attempt, nil)
			continue
		}

		derr := &DeliveryError{EventID: dl.Metadata.EventID, EventType: dl.Type, Failures: failures}
		dl.DLQ.Error = derr.Error()
		dl.DLQ.Handlers = derr.Handlers()
		dl.DLQ.AttemptCount = attempt + 1
		dl.DLQ.RetriedAt = b.now().UTC().Format(domain.TimestampLayout)
		keep = append(keep, dl)
	}

	if err := b.journal.ReplaceDeadLetters(batch, keep); err != nil {
		return res, fmt.Errorf("rewriting dlq: %w", err)
	}

	b.logger.Info("dlq processed",
		"tenant_id", tenantID,
		"processed", res.Processed,
		"succeeded", res.Succeeded,
	)
	return res, nil
}
