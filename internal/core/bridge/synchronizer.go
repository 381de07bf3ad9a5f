// Package bridge keeps the legacy navigation controller and the observable
// application state showing the same identity. Changes are picked up from
// four sources (storage events from other tabs, legacy transitions, state
// subscriptions and the state-change event) and pushed into whichever
// system does not show them yet.
package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/events/bus"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/core/state"
	"github.com/ivi39c/speaka-sub000/internal/core/storage"
)

// DefaultRecheckDelay is the debounce before the visibility backstop runs.
const DefaultRecheckDelay = 100 * time.Millisecond

// LegacySystem is what the synchronizer needs from the legacy controller.
type LegacySystem interface {
	auth.AuthUIPresenter
	Intercept(hook auth.TransitionHook) (release func())
	Rendered() auth.Snapshot
}

// ModernSystem is what the synchronizer needs from the application state.
type ModernSystem interface {
	GetState() state.State
	SetState(mutators ...state.Mutator)
	Subscribe(fn state.Listener) (unsubscribe func())
}

// Options configures a Synchronizer. A nil Legacy or Modern means that
// system is not present on the page.
type Options struct {
	Legacy       LegacySystem
	Modern       ModernSystem
	Store        *storage.Store
	Bus          bus.Dispatcher
	Watcher      storage.Watcher
	Logger       log.Log
	RecheckDelay time.Duration
}

type Status uint8

const (
	StatusUninitialized Status = iota
	StatusDetecting
	StatusSyncing
	StatusReady
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusDetecting:
		return "detecting"
	case StatusSyncing:
		return "syncing"
	case StatusReady:
		return "ready"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Stats counts what the synchronizer did. LegacyCalls and ModernCalls are
// the cross-system calls it made; no-op propagations are not counted.
type Stats struct {
	LegacyCalls   uint64
	ModernCalls   uint64
	StorageEvents uint64
	Transitions   uint64
	StateChanges  uint64
	Rechecks      uint64
	Failures      uint64
}

type counters struct {
	legacyCalls   atomic.Uint64
	modernCalls   atomic.Uint64
	storageEvents atomic.Uint64
	transitions   atomic.Uint64
	stateChanges  atomic.Uint64
	rechecks      atomic.Uint64
	failures      atomic.Uint64
}

// Synchronizer reconciles the two UI systems. It holds no lock while
// calling into either of them.
type Synchronizer struct {
	legacy  LegacySystem
	modern  ModernSystem
	store   *storage.Store
	bus     bus.Dispatcher
	watcher storage.Watcher
	delay   time.Duration
	logger  log.Log

	mu       sync.Mutex // guards status, cleanups and recheck
	status   Status
	cleanups []func()
	recheck  *time.Timer

	// serializes externally triggered reconciliation (storage, recheck)
	propMu sync.Mutex

	stats counters
}

func New(opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	delay := opts.RecheckDelay
	if delay <= 0 {
		delay = DefaultRecheckDelay
	}
	return &Synchronizer{
		legacy:  opts.Legacy,
		modern:  opts.Modern,
		store:   opts.Store,
		bus:     opts.Bus,
		watcher: opts.Watcher,
		delay:   delay,
		logger:  logger.With(log.String("component", "auth_sync")),
	}
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) Stats() Stats {
	return Stats{
		LegacyCalls:   s.stats.legacyCalls.Load(),
		ModernCalls:   s.stats.modernCalls.Load(),
		StorageEvents: s.stats.storageEvents.Load(),
		Transitions:   s.stats.transitions.Load(),
		StateChanges:  s.stats.stateChanges.Load(),
		Rechecks:      s.stats.rechecks.Load(),
		Failures:      s.stats.failures.Load(),
	}
}

// Init registers every listener and runs the initial reconcile. Only the
// first call has an effect; Init after Destroy does nothing.
func (s *Synchronizer) Init() {
	s.mu.Lock()
	if s.status != StatusUninitialized {
		s.mu.Unlock()
		s.logger.Debug("Init ignored", log.String("status", s.status.String()))
		return
	}

	s.status = StatusDetecting
	if s.legacy == nil && s.modern == nil {
		s.status = StatusReady
		s.mu.Unlock()
		s.logger.Info("No UI system present, nothing to synchronize")
		return
	}

	s.status = StatusSyncing
	s.cleanups = s.register()
	s.status = StatusReady
	s.mu.Unlock()

	s.logger.Info("Auth synchronizer ready",
		log.Bool("legacy", s.legacy != nil),
		log.Bool("modern", s.modern != nil),
		log.Int("listeners", len(s.cleanups)))

	s.propMu.Lock()
	s.apply(s.canonical())
	s.propMu.Unlock()
}

// register attaches the four listeners in order. Callers hold s.mu.
func (s *Synchronizer) register() []func() {
	var cleanups []func()

	if s.watcher != nil && s.store != nil {
		cleanups = append(cleanups, s.watcher.Watch(s.onStorageChange))
	}
	if s.bus != nil {
		cleanups = append(cleanups, s.bus.Listen(auth.EventStateChange, s.onStateChangeEvent))
	}
	if s.legacy != nil {
		cleanups = append(cleanups, s.legacy.Intercept(s.onLegacyTransition))
	}
	if s.modern != nil {
		cleanups = append(cleanups, s.modern.Subscribe(s.onModernChange))
	}
	return cleanups
}

// Destroy disposes every registration and cancels a pending recheck. It is
// safe to call any number of times.
func (s *Synchronizer) Destroy() {
	s.mu.Lock()
	if s.status == StatusDestroyed {
		s.mu.Unlock()
		return
	}
	s.status = StatusDestroyed
	if s.recheck != nil {
		s.recheck.Stop()
		s.recheck = nil
	}
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		s.guard("cleanup", cleanups[i])
	}
	s.logger.Info("Auth synchronizer destroyed", log.Int("released", len(cleanups)))
}

func (s *Synchronizer) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusReady
}

// onStorageChange handles a write made by another tab.
func (s *Synchronizer) onStorageChange(c storage.Change) {
	if !storage.IsIdentityKey(c.Key) || !s.live() {
		return
	}
	s.stats.storageEvents.Add(1)
	s.logger.Debug("Identity changed in another tab",
		log.String("key", c.Key),
		log.Bool("removed", c.Removed()))

	s.propMu.Lock()
	defer s.propMu.Unlock()
	s.apply(s.store.Snapshot())
}

// onStateChangeEvent debounces the visibility backstop.
func (s *Synchronizer) onStateChangeEvent(bus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady {
		return nil
	}
	if s.recheck != nil {
		s.recheck.Stop()
	}
	s.recheck = time.AfterFunc(s.delay, s.runRecheck)
	return nil
}

// onLegacyTransition forwards a transition the legacy controller made on its
// own into the application state.
func (s *Synchronizer) onLegacyTransition(t auth.Transition, rec *auth.Identity) {
	if !s.live() {
		return
	}
	s.stats.transitions.Add(1)

	snap := auth.Anonymous()
	if t == auth.TransitionAuthenticated && rec != nil {
		snap = auth.Authenticated(*rec)
	}

	var prevUser *auth.Identity
	if s.modern != nil {
		s.guard("read state", func() { prevUser = s.modern.GetState().User })
	}

	announced := s.stats.stateChanges.Load()
	s.pushModern(snap)
	if snap.LoggedIn {
		s.dispatch(auth.EventLogin, *snap.User)
	} else if prevUser != nil {
		s.dispatch(auth.EventLogout, *prevUser)
	} else {
		s.dispatch(auth.EventLogout, nil)
	}
	if s.stats.stateChanges.Load() == announced {
		s.announce(snap)
	}
}

// onModernChange pushes a login flip of the application state into the
// legacy controller.
func (s *Synchronizer) onModernChange(next, prev state.State) {
	if next.IsLoggedIn == prev.IsLoggedIn || !s.live() {
		return
	}
	snap := next.Auth()
	s.pushLegacy(snap)
	s.announce(snap)
}

// runRecheck compares both systems with the store and repairs drift.
func (s *Synchronizer) runRecheck() {
	s.mu.Lock()
	s.recheck = nil
	s.mu.Unlock()
	if !s.live() {
		return
	}
	s.stats.rechecks.Add(1)

	s.propMu.Lock()
	defer s.propMu.Unlock()
	want := s.canonical()
	legacy := s.pushLegacy(want)
	modern := s.pushModern(want)
	if legacy || modern {
		s.logger.Warn("Recheck repaired drift",
			log.Bool("legacy", legacy),
			log.Bool("modern", modern),
			log.Bool("logged_in", want.LoggedIn))
	}
}

// apply pushes snap into both systems and announces it once if anything
// changed and nobody announced it already.
func (s *Synchronizer) apply(snap auth.Snapshot) {
	announced := s.stats.stateChanges.Load()
	modern := s.pushModern(snap)
	legacy := s.pushLegacy(snap)
	if (modern || legacy) && s.stats.stateChanges.Load() == announced {
		s.announce(snap)
	}
}

// canonical is the identity pair every system should show. The store wins
// when present; only a pair with both halves counts as logged in.
func (s *Synchronizer) canonical() auth.Snapshot {
	switch {
	case s.store != nil:
		return s.store.Snapshot()
	case s.modern != nil:
		var snap auth.Snapshot
		s.guard("read state", func() { snap = s.modern.GetState().Auth() })
		return snap
	case s.legacy != nil:
		var snap auth.Snapshot
		s.guard("read legacy", func() { snap = s.legacy.Rendered() })
		return snap
	default:
		return auth.Anonymous()
	}
}

// pushModern sets the identity pair on the application state unless it
// already holds it. It reports whether a call was made.
func (s *Synchronizer) pushModern(snap auth.Snapshot) bool {
	if s.modern == nil {
		return false
	}
	var current auth.Snapshot
	if !s.guard("read state", func() { current = s.modern.GetState().Auth() }) {
		return false
	}
	if current.Equal(snap) {
		return false
	}
	s.stats.modernCalls.Add(1)
	s.guard("set state", func() { s.modern.SetState(state.WithAuth(snap)) })
	return true
}

// pushLegacy renders snap through the raw presenter methods, which never
// fire transition hooks. It reports whether a call was made.
func (s *Synchronizer) pushLegacy(snap auth.Snapshot) bool {
	if s.legacy == nil {
		return false
	}
	var current auth.Snapshot
	if !s.guard("read legacy", func() { current = s.legacy.Rendered() }) {
		return false
	}
	if current.Equal(snap) {
		return false
	}
	s.stats.legacyCalls.Add(1)
	if snap.LoggedIn {
		s.guard("show authenticated", func() { s.legacy.ShowAuthenticated(*snap.User) })
	} else {
		s.guard("show anonymous", s.legacy.ShowAnonymous)
	}
	return true
}

func (s *Synchronizer) announce(snap auth.Snapshot) {
	s.stats.stateChanges.Add(1)
	s.dispatch(auth.EventStateChange, snap)
}

func (s *Synchronizer) dispatch(name string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Dispatch(name, payload); err != nil {
		s.logger.Warn("Event listeners failed", log.String("event", name), log.Error(err))
	}
}

// guard runs fn, recovering and logging a panic. It reports whether fn
// returned normally.
func (s *Synchronizer) guard(op string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.failures.Add(1)
			s.logger.Error("Propagation failed",
				log.String("op", op),
				log.Any("panic", r))
			ok = false
		}
	}()
	fn()
	return true
}
