package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

// subscription implements Subscription.
type subscription struct {
	id     string
	name   string
	fn     Listener
	active atomic.Bool
	cancel func()
	once   sync.Once
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventName() string { return s.name }
func (s *subscription) IsActive() bool    { return s.active.Load() }
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.active.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// inMemoryDispatcher is a thread-safe Dispatcher.
type inMemoryDispatcher struct {
	mu sync.RWMutex
	// listeners: event name -> subscriptions in registration order
	listeners map[string][]*subscription
	logger    log.Log

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	failures   atomic.Uint64
}

var _ Dispatcher = (*inMemoryDispatcher)(nil)

// New creates a new Dispatcher that logs listener failures to logger.
func New(logger log.Log) Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[string][]*subscription),
		logger:    logger.With(log.String("component", "dispatcher")),
	}
}

func (d *inMemoryDispatcher) Listen(name string, fn Listener) func() {
	return d.Subscribe(name, fn).Cancel
}

func (d *inMemoryDispatcher) Subscribe(name string, fn Listener) Subscription {
	s := &subscription{id: uuid.NewString(), name: name, fn: fn}
	s.active.Store(true)
	s.cancel = func() { d.remove(name, s.id) }

	d.mu.Lock()
	d.listeners[name] = append(d.listeners[name], s)
	d.mu.Unlock()
	return s
}

func (d *inMemoryDispatcher) remove(name, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.listeners[name]
	for i, s := range subs {
		if s.id == id {
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(d.listeners, name)
			} else {
				d.listeners[name] = next
			}
			return
		}
	}
}

func (d *inMemoryDispatcher) ListenerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

func (d *inMemoryDispatcher) Metrics() Metrics {
	d.mu.RLock()
	active := 0
	for _, subs := range d.listeners {
		active += len(subs)
	}
	d.mu.RUnlock()
	return Metrics{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Failures:   d.failures.Load(),
		Active:     uint64(active),
	}
}

func (d *inMemoryDispatcher) Dispatch(name string, payload any) error {
	d.dispatched.Add(1)

	// Copy under the lock so listeners may Listen/Cancel re-entrantly.
	d.mu.RLock()
	subs := append([]*subscription(nil), d.listeners[name]...)
	d.mu.RUnlock()

	event := Event{Name: name, Payload: payload, Timestamp: time.Now()}
	var all error
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		if err := d.deliver(s, event); err != nil {
			d.failures.Add(1)
			d.logger.Error("Listener failed",
				log.String("event", name),
				log.String("subscription", s.id),
				log.Error(err))
			all = errors.Join(all, err)
			continue
		}
		d.delivered.Add(1)
	}
	return all
}

func (d *inMemoryDispatcher) deliver(s *subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return s.fn(event)
}
