// Package state implements the observable application state: one mutable
// State with subscribe/notify, bounded undo history, and persistence of the
// reload-surviving subset.
package state

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/events/bus"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/core/storage"
)

const (
	DefaultHistoryCapacity = 10
	maxNotifications       = 50
)

// Listener receives every committed change as (new, old).
type Listener func(next, prev State)

type listenerEntry struct {
	id uint64
	fn Listener
}

// commit is one applied mutation waiting to be persisted and announced.
type commit struct {
	next, prev State
	reset      bool
}

// AppState is the single source of truth for UI-facing state.
//
// Commits are persisted and announced strictly in the order they were
// applied. Whichever goroutine finds the queue idle drains it. A SetState
// issued from inside a subscriber, or while another goroutine is draining,
// is queued and returns; the drainer delivers it after the current commit.
type AppState struct {
	mu    sync.Mutex // guards state, the history ring and the commit queue
	state State

	pending  []commit
	draining bool

	history      []State // circular buffer of pre-mutation snapshots
	historyStart int
	historyLen   int

	subsMu    sync.RWMutex
	listeners []listenerEntry
	nextID    uint64

	store  *storage.Store
	bus    bus.Dispatcher
	logger log.Log
}

type Option func(*AppState)

// WithHistoryCapacity overrides the undo ring size (minimum 1).
func WithHistoryCapacity(n int) Option {
	return func(a *AppState) {
		if n < 1 {
			n = 1
		}
		a.history = make([]State, n)
	}
}

// New builds the state and hydrates it from store. store and dispatcher may
// be nil; persistence and events are then skipped.
func New(store *storage.Store, dispatcher bus.Dispatcher, logger log.Log, opts ...Option) *AppState {
	a := &AppState{
		state:   Default(),
		history: make([]State, DefaultHistoryCapacity),
		store:   store,
		bus:     dispatcher,
		logger:  logger.With(log.String("component", "app_state")),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.hydrate()
	return a
}

// hydrate restores the persisted subset, then lets the identity keys decide
// the login pair: the stored profile and token win over a stale subset.
func (a *AppState) hydrate() {
	if a.store == nil {
		return
	}
	var p persisted
	if a.store.LoadAppState(&p) {
		if p.Subscriptions != nil {
			a.state.Subscriptions = p.Subscriptions
		}
		if p.Groups != nil {
			a.state.Groups = p.Groups
		}
	}
	WithAuth(a.store.Snapshot())(&a.state)
}

// GetState returns a deep copy of the current state.
func (a *AppState) GetState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// SetState records the current state in history, applies mutators, persists
// the allow-listed subset and notifies subscribers, in that order.
func (a *AppState) SetState(mutators ...Mutator) {
	a.mu.Lock()
	prev := a.state.Clone()
	a.pushHistoryLocked(prev)
	next := a.state.Clone()
	for _, m := range mutators {
		m(&next)
	}
	a.state = next.Clone()
	a.enqueueLocked(commit{next: next, prev: prev})
}

// Subscribe registers fn and returns its unsubscribe function.
func (a *AppState) Subscribe(fn Listener) (unsubscribe func()) {
	a.subsMu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners = append(a.listeners, listenerEntry{id: id, fn: fn})
	a.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subsMu.Lock()
			defer a.subsMu.Unlock()
			for i, l := range a.listeners {
				if l.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscriberCount reports the number of active subscribers.
func (a *AppState) SubscriberCount() int {
	a.subsMu.RLock()
	defer a.subsMu.RUnlock()
	return len(a.listeners)
}

// History returns the recorded snapshots, oldest first.
func (a *AppState) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]State, 0, a.historyLen)
	for i := 0; i < a.historyLen; i++ {
		out = append(out, a.history[(a.historyStart+i)%len(a.history)].Clone())
	}
	return out
}

// Undo restores the most recent snapshot. It reports false when history is
// empty. The undone state is not itself recorded.
func (a *AppState) Undo() bool {
	// The identity pair is never restored from history; the store decides it.
	var pair *auth.Snapshot
	if a.store != nil {
		snap := a.store.Snapshot()
		pair = &snap
	}

	a.mu.Lock()
	if a.historyLen == 0 {
		a.mu.Unlock()
		return false
	}
	last := (a.historyStart + a.historyLen - 1) % len(a.history)
	restored := a.history[last]
	a.history[last] = State{}
	a.historyLen--
	if pair != nil {
		WithAuth(*pair)(&restored)
	}
	prev := a.state.Clone()
	a.state = restored.Clone()
	a.enqueueLocked(commit{next: restored, prev: prev})
	return true
}

// Reset restores defaults, drops history and clears the store. Subscribers
// see one notification; nothing is recorded in history.
func (a *AppState) Reset() {
	a.mu.Lock()
	prev := a.state.Clone()
	a.state = Default()
	for i := range a.history {
		a.history[i] = State{}
	}
	a.historyStart, a.historyLen = 0, 0
	a.enqueueLocked(commit{next: a.state.Clone(), prev: prev, reset: true})
}

// Navigate records a route change and closes the sidebar.
func (a *AppState) Navigate(path string) {
	a.SetState(WithPath(path), WithSidebar(false))
}

// AddNotification prepends n, keeping the newest maxNotifications.
func (a *AppState) AddNotification(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	cur := a.GetState().Notifications
	list := append([]Notification{n}, cur...)
	if len(list) > maxNotifications {
		list = list[:maxNotifications]
	}
	a.SetState(WithNotifications(list))
}

// Login persists the credentials (token first), marks the state logged in
// and dispatches auth:login.
func (a *AppState) Login(rec auth.Identity, token string) error {
	if a.store != nil {
		if err := a.store.SetToken(token); err != nil {
			return fmt.Errorf("persist token: %w", err)
		}
		if err := a.store.SetProfile(rec); err != nil {
			a.store.Clear()
			return fmt.Errorf("persist profile: %w", err)
		}
	}
	a.SetState(WithAuth(auth.Authenticated(rec)))
	a.dispatch(auth.EventLogin, rec)
	return nil
}

// Logout clears the credentials, marks the state logged out and dispatches
// auth:logout with the previous identity (nil if there was none).
func (a *AppState) Logout() {
	prevUser := a.GetState().User
	if a.store != nil {
		a.store.Clear()
	}
	a.SetState(WithAuth(auth.Anonymous()))
	if prevUser == nil {
		a.dispatch(auth.EventLogout, nil)
		return
	}
	a.dispatch(auth.EventLogout, *prevUser)
}

func (a *AppState) pushHistoryLocked(s State) {
	capacity := len(a.history)
	if a.historyLen < capacity {
		a.history[(a.historyStart+a.historyLen)%capacity] = s
		a.historyLen++
		return
	}
	a.history[a.historyStart] = s
	a.historyStart = (a.historyStart + 1) % capacity
}

// enqueueLocked queues c and, unless another call is already draining,
// drains the queue. Callers hold a.mu; it is released on return.
func (a *AppState) enqueueLocked(c commit) {
	a.pending = append(a.pending, c)
	if a.draining {
		a.mu.Unlock()
		return
	}
	a.draining = true
	a.mu.Unlock()
	a.drain()
}

func (a *AppState) drain() {
	for {
		a.mu.Lock()
		if len(a.pending) == 0 {
			a.pending = nil
			a.draining = false
			a.mu.Unlock()
			return
		}
		c := a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()

		if c.reset {
			if a.store != nil {
				a.store.Clear()
				a.store.ClearAppState()
			}
		} else {
			a.persist(c.next)
		}
		a.notify(c.next, c.prev)
	}
}

func (a *AppState) persist(s State) {
	if a.store == nil {
		return
	}
	a.store.SaveAppState(persistedFrom(s))
}

func (a *AppState) notify(next, prev State) {
	a.subsMu.RLock()
	targets := append([]listenerEntry(nil), a.listeners...)
	a.subsMu.RUnlock()

	for _, l := range targets {
		a.call(l, next.Clone(), prev.Clone())
	}
}

func (a *AppState) call(l listenerEntry, next, prev State) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("State subscriber panicked",
				log.Uint64("subscriber", l.id),
				log.Any("panic", r))
		}
	}()
	l.fn(next, prev)
}

func (a *AppState) dispatch(name string, payload any) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Dispatch(name, payload); err != nil {
		a.logger.Warn("Event listeners failed", log.String("event", name), log.Error(err))
	}
}
