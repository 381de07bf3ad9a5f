package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

const relayWriteTimeout = 5 * time.Second

// Relayed wraps a local Backend and mirrors every write through a websocket
// relay, so processes sharing one relay behave like tabs sharing one
// storage area. Remote writes are applied locally and announced to watchers.
type Relayed struct {
	local  Backend
	conn   *websocket.Conn
	id     string
	logger log.Log

	writeMu sync.Mutex

	mu       sync.Mutex
	watchers map[uint64]func(Change)
	nextID   uint64
	sums     map[string]uint64

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ Backend = (*Relayed)(nil)
	_ Watcher = (*Relayed)(nil)
)

// DialRelay connects local to the relay at url (ws:// or wss://).
func DialRelay(ctx context.Context, url string, local Backend, logger log.Log) (*Relayed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	r := &Relayed{
		local:    local,
		conn:     conn,
		id:       uuid.NewString(),
		logger:   logger.With(log.String("component", "storage_relay")),
		watchers: make(map[uint64]func(Change)),
		sums:     make(map[string]uint64),
		done:     make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// ID identifies this process as the Origin of its writes.
func (r *Relayed) ID() string { return r.id }

func (r *Relayed) Get(key string) (string, bool, error) {
	return r.local.Get(key)
}

func (r *Relayed) Set(key, value string) error {
	sum := Fingerprint(value)
	r.mu.Lock()
	last, known := r.sums[key]
	r.mu.Unlock()
	if known && last == sum {
		if cur, ok, err := r.local.Get(key); err == nil && ok && cur == value {
			return nil
		}
	}

	if err := r.local.Set(key, value); err != nil {
		return err
	}
	r.mu.Lock()
	r.sums[key] = sum
	r.mu.Unlock()
	return r.publish(Change{Key: key, NewValue: ptr(value), Origin: r.id})
}

func (r *Relayed) Remove(key string) error {
	if err := r.local.Remove(key); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sums, key)
	r.mu.Unlock()
	return r.publish(Change{Key: key, Origin: r.id})
}

func (r *Relayed) Watch(fn func(Change)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

// Done is closed when the relay connection ends.
func (r *Relayed) Done() <-chan struct{} { return r.done }

// Close ends the relay connection. The local backend stays open.
func (r *Relayed) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = r.conn.Close()
		r.writeMu.Unlock()
		<-r.done
	})
	return err
}

func (r *Relayed) publish(c Change) error {
	select {
	case <-r.done:
		// The local write already happened; only the fan-out is lost.
		r.logger.Warn("Relay closed, change not shared", log.String("key", c.Key))
		return nil
	default:
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	if err := r.conn.WriteJSON(c); err != nil {
		r.logger.Warn("Failed to publish change", log.String("key", c.Key), log.Error(err))
		return fmt.Errorf("%w: %v", ErrRelayClosed, err)
	}
	return nil
}

func (r *Relayed) readLoop() {
	defer close(r.done)
	for {
		var c Change
		if err := r.conn.ReadJSON(&c); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug("Relay read ended", log.Error(err))
			}
			return
		}
		if c.Origin == r.id || c.Key == "" {
			continue
		}
		r.apply(c)
	}
}

func (r *Relayed) apply(c Change) {
	if old, ok, err := r.local.Get(c.Key); err == nil && ok {
		c.OldValue = ptr(old)
	}

	var err error
	if c.Removed() {
		err = r.local.Remove(c.Key)
	} else {
		err = r.local.Set(c.Key, *c.NewValue)
	}
	if err != nil {
		r.logger.Error("Failed to apply remote change", log.String("key", c.Key), log.Error(err))
		return
	}

	r.mu.Lock()
	if c.Removed() {
		delete(r.sums, c.Key)
	} else {
		r.sums[c.Key] = Fingerprint(*c.NewValue)
	}
	targets := make([]func(Change), 0, len(r.watchers))
	for _, fn := range r.watchers {
		targets = append(targets, fn)
	}
	r.mu.Unlock()

	for _, fn := range targets {
		go fn(c)
	}
}
