package webhook

import (
	"log/slog"
	"sync"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

// Subscriber is the part of the bus a Registry needs.
type Subscriber interface {
	Subscribe(eventType string, h domain.Handler) (func(), error)
}

// Registry keeps the bus subscriptions of webhook subscribers in step with
// their stored configuration.
type Registry struct {
	bus       Subscriber
	deliverer *Deliverer
	logger    *slog.Logger

	mu       sync.Mutex
	attached map[string][]func()
}

// NewRegistry creates a registry that subscribes to bus.
func NewRegistry(bus Subscriber, deliverer *Deliverer, logger *slog.Logger) *Registry {
	return &Registry{
		bus:       bus,
		deliverer: deliverer,
		logger:    logger,
		attached:  make(map[string][]func()),
	}
}

// Attach subscribes sub to each of its event types, replacing any previous
// registration. Inactive subscribers are only detached.
func (r *Registry) Attach(sub domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detach(sub.ID)
	if !sub.IsActive {
		return nil
	}

	h := r.deliverer.Handler(sub)
	unsubs := make([]func(), 0, len(sub.EventTypes))
	for _, eventType := range sub.EventTypes {
		unsub, err := r.bus.Subscribe(eventType, h)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return err
		}
		unsubs = append(unsubs, unsub)
	}
	r.attached[sub.ID] = unsubs

	r.logger.Info("webhook subscriber attached",
		"subscriber_id", sub.ID,
		"handler", h.Name,
		"event_types", sub.EventTypes,
	)
	return nil
}

// Detach removes every bus subscription of the subscriber.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detach(id)
}

func (r *Registry) detach(id string) {
	for _, unsub := range r.attached[id] {
		unsub()
	}
	delete(r.attached, id)
}

// Len returns the number of attached subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}
