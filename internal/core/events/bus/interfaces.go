package bus

import "time"

// Dispatcher is the process-wide publish/subscribe channel for named
// authentication events.
//
// Key characteristics:
// - Name-based fan-out: listeners subscribe by event name (auth:login, ...).
// - Synchronous delivery: Dispatch runs every listener in the caller goroutine,
//   in registration order, before returning.
// - Isolation: a listener that returns an error or panics is logged and
//   counted; the remaining listeners still run.
// - Listen returns a disposer; calling it more than once is a no-op.
//
// All methods are safe for concurrent use.
type Dispatcher interface {
	// Dispatch delivers payload to all listeners currently registered for
	// name. Listener errors are joined into the returned error.
	Dispatch(name string, payload any) error
	// Listen registers fn for name and returns its unsubscribe function.
	Listen(name string, fn Listener) (unsubscribe func())
	// Subscribe is Listen returning the full Subscription handle.
	Subscribe(name string, fn Listener) Subscription
	// ListenerCount reports the listeners registered for name.
	ListenerCount(name string) int
	// Metrics returns a snapshot of delivery counters.
	Metrics() Metrics
}

// Event is what a listener receives.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// Listener is a user callback invoked per delivered event.
type Listener func(event Event) error

// Subscription represents a registered listener bound to an event name.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	// EventName returns the event name this subscription listens to.
	EventName() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the listener. Multiple calls are safe.
	Cancel()
}

// Metrics is a best-effort snapshot of dispatcher activity.
type Metrics struct {
	Dispatched uint64
	Delivered  uint64
	Failures   uint64
	Active     uint64
}
