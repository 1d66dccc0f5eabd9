package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusClosed is returned by operations on a bus that has been shut down.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrNilHandler is returned when subscribing a handler without an Invoke func.
	ErrNilHandler = errors.New("handler has no invoke func")
	// ErrEmptyEventType is returned when publishing or subscribing without an event type.
	ErrEmptyEventType = errors.New("event type is required")
	// ErrInvalidDay is returned for replay bounds that are not YYYY-MM-DD dates.
	ErrInvalidDay = errors.New("invalid day, expected YYYY-MM-DD")
)

// HandlerFailure is one handler's error for one delivery attempt.
type HandlerFailure struct {
	Handler string
	Attempt int
	Err     error
}

func (f HandlerFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Handler, f.Err)
}

func (f HandlerFailure) Unwrap() error {
	return f.Err
}

// DeliveryError aggregates the handlers that failed to process an event.
type DeliveryError struct {
	EventID   string
	EventType string
	Failures  []HandlerFailure
}

func (e *DeliveryError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes each handler's error to errors.Is and errors.As.
func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Handlers returns the names of the failing handlers in delivery order.
func (e *DeliveryError) Handlers() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Handler
	}
	return names
}
