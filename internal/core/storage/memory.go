package storage

import (
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process storage area shared by any number of tabs. Each
// Tab is its own Backend and Watcher; a write through one tab is announced
// to every other tab, never to the writer.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
	tabs map[string]*Tab
}

// NewMemory creates an empty storage area.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]string),
		tabs: make(map[string]*Tab),
	}
}

// Tab opens a new view onto the area.
func (m *Memory) Tab() *Tab {
	t := &Tab{
		id:       uuid.NewString(),
		area:     m,
		watchers: make(map[uint64]func(Change)),
	}
	m.mu.Lock()
	m.tabs[t.id] = t
	m.mu.Unlock()
	return t
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// write applies value (nil = remove) and fans the change out to every tab
// except origin. Identical writes are dropped without an announcement.
func (m *Memory) write(origin, key string, value *string) {
	m.mu.Lock()
	old, had := m.data[key]
	switch {
	case value == nil && !had:
		m.mu.Unlock()
		return
	case value != nil && had && old == *value:
		m.mu.Unlock()
		return
	}

	change := Change{Key: key, Origin: origin}
	if had {
		change.OldValue = ptr(old)
	}
	if value == nil {
		delete(m.data, key)
	} else {
		m.data[key] = *value
		change.NewValue = ptr(*value)
	}

	var targets []func(Change)
	for id, tab := range m.tabs {
		if id == origin {
			continue
		}
		targets = append(targets, tab.snapshotWatchers()...)
	}
	m.mu.Unlock()

	for _, fn := range targets {
		go fn(change)
	}
}

func (m *Memory) detach(id string) {
	m.mu.Lock()
	delete(m.tabs, id)
	m.mu.Unlock()
}

// Tab is one browsing context's view of a Memory area.
type Tab struct {
	id   string
	area *Memory

	mu       sync.Mutex
	watchers map[uint64]func(Change)
	nextID   uint64
	closed   bool
}

var (
	_ Backend = (*Tab)(nil)
	_ Watcher = (*Tab)(nil)
)

// ID identifies the tab as the Origin of its writes.
func (t *Tab) ID() string { return t.id }

func (t *Tab) Get(key string) (string, bool, error) {
	if t.isClosed() {
		return "", false, ErrClosed
	}
	v, ok := t.area.get(key)
	return v, ok, nil
}

func (t *Tab) Set(key, value string) error {
	if t.isClosed() {
		return ErrClosed
	}
	t.area.write(t.id, key, &value)
	return nil
}

func (t *Tab) Remove(key string) error {
	if t.isClosed() {
		return ErrClosed
	}
	t.area.write(t.id, key, nil)
	return nil
}

func (t *Tab) Watch(fn func(Change)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, id)
			t.mu.Unlock()
		})
	}
}

// WatcherCount reports the number of active watchers.
func (t *Tab) WatcherCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.watchers)
}

// Close detaches the tab; further calls fail with ErrClosed.
func (t *Tab) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.watchers = make(map[uint64]func(Change))
	t.mu.Unlock()
	t.area.detach(t.id)
	return nil
}

func (t *Tab) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tab) snapshotWatchers() []func(Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]func(Change), 0, len(t.watchers))
	for _, fn := range t.watchers {
		out = append(out, fn)
	}
	return out
}
