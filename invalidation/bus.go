package invalidation

import "context"

// Handler consumes one inbound event. It runs on a transport-provided
// goroutine and must be re-entrancy safe; panics are caught and logged by
// the transports so the subscription stays alive.
type Handler func(Event)

// Publisher emits events to every current subscriber on the bus.
type Publisher interface {
	// Publish sends one event.
	Publish(ctx context.Context, e Event) error
	// PublishBatch sends events one by one and returns how many were
	// accepted by the transport; the first error is returned alongside
	// the count.
	PublishBatch(ctx context.Context, events []Event) (int, error)
}

// Subscriber consumes events from the bus.
type Subscriber interface {
	// Subscribe installs handler. Only one handler is active per
	// Subscriber; subscribing twice replaces nothing and returns an error.
	Subscribe(ctx context.Context, handler Handler) error
	// Unsubscribe stops delivery and releases transport resources.
	Unsubscribe() error
	// IsSubscribed reports whether a handler is active.
	IsSubscribed() bool
}
