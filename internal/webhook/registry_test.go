package webhook

import (
	"errors"
	"testing"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

type fakeBus struct {
	subs map[string][]string
	fail string
}

func (f *fakeBus) Subscribe(eventType string, h domain.Handler) (func(), error) {
	if eventType == f.fail {
		return nil, errors.New("refused")
	}
	f.subs[eventType] = append(f.subs[eventType], h.Name)
	return func() {
		list := f.subs[eventType]
		for i, name := range list {
			if name == h.Name {
				f.subs[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}, nil
}

func (f *fakeBus) count() int {
	n := 0
	for _, names := range f.subs {
		n += len(names)
	}
	return n
}

func TestRegistry_AttachDetach(t *testing.T) {
	bus := &fakeBus{subs: map[string][]string{}}
	r := NewRegistry(bus, NewDeliverer(0, nil, nil, testLogger()), testLogger())

	sub := testSubscriber("http://example.invalid")
	sub.EventTypes = []string{"lead.qualified", "booking.confirmed"}
	if err := r.Attach(sub); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if bus.count() != 2 || r.Len() != 1 {
		t.Fatalf("expected 2 subscriptions for 1 subscriber, got %d/%d", bus.count(), r.Len())
	}

	// Re-attaching replaces the old registration.
	sub.EventTypes = []string{"payment.completed"}
	if err := r.Attach(sub); err != nil {
		t.Fatalf("re-attach failed: %v", err)
	}
	if bus.count() != 1 || len(bus.subs["payment.completed"]) != 1 {
		t.Errorf("expected only payment.completed, got %v", bus.subs)
	}

	r.Detach(sub.ID)
	if bus.count() != 0 || r.Len() != 0 {
		t.Errorf("expected nothing attached after detach, got %v", bus.subs)
	}
}

func TestRegistry_InactiveIsDetached(t *testing.T) {
	bus := &fakeBus{subs: map[string][]string{}}
	r := NewRegistry(bus, NewDeliverer(0, nil, nil, testLogger()), testLogger())

	sub := testSubscriber("http://example.invalid")
	r.Attach(sub)
	sub.IsActive = false
	if err := r.Attach(sub); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if bus.count() != 0 {
		t.Errorf("inactive subscriber should have no subscriptions, got %v", bus.subs)
	}
}

func TestRegistry_AttachRollsBackOnError(t *testing.T) {
	bus := &fakeBus{subs: map[string][]string{}, fail: "booking.confirmed"}
	r := NewRegistry(bus, NewDeliverer(0, nil, nil, testLogger()), testLogger())

	sub := testSubscriber("http://example.invalid")
	sub.EventTypes = []string{"lead.qualified", "booking.confirmed"}
	if err := r.Attach(sub); err == nil {
		t.Fatal("expected attach to fail")
	}
	if bus.count() != 0 || r.Len() != 0 {
		t.Errorf("partial registration should be rolled back, got %v", bus.subs)
	}
}
