package storage

import (
	"github.com/cespare/xxhash/v2"
)

// Backend is a durable string key-value area, shaped after browser local
// storage: per-key atomic replace, no multi-key transactions.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Watcher delivers changes made by other writers (other tabs, other
// processes). A writer is never notified of its own writes. Delivery is
// asynchronous and unordered relative to same-tab events.
type Watcher interface {
	Watch(fn func(Change)) (cancel func())
}

// Change describes one key mutation. A nil NewValue means the key was removed.
type Change struct {
	Key      string  `json:"key"`
	OldValue *string `json:"oldValue,omitempty"`
	NewValue *string `json:"newValue,omitempty"`
	Origin   string  `json:"origin"`
}

// Removed reports whether the change deleted the key.
func (c Change) Removed() bool { return c.NewValue == nil }

// Fingerprint is the xxhash of a stored value. Relayed uses it to skip
// republishing a value it already sent.
func Fingerprint(v string) uint64 {
	return xxhash.Sum64String(v)
}

func ptr(s string) *string { return &s }
