// Package legacy is the imperative navigation controller of the original
// site. It renders the login affordance or the user menu straight into its
// DOM and exposes two transition entry points other components can observe.
package legacy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/core/storage"
)

// DefaultReloadDelay is how long Logout waits before reloading the page.
const DefaultReloadDelay = 500 * time.Millisecond

const (
	selLoginButton  = "#line-login-btn"
	selUserMenu     = "#user-menu"
	selAvatar       = "#user-avatar"
	selDisplayName  = "#user-name"
	selLogoutButton = "#logout-btn"
	classHidden     = "hidden"
)

// NavHTML is the navigation markup the controller renders into by default.
const NavHTML = `<nav id="legacy-nav" data-legacy-nav>
  <a class="brand" href="/">speaka</a>
  <button id="line-login-btn" class="btn btn-line">LINEでログイン</button>
  <div id="user-menu" class="user-menu hidden">
    <img id="user-avatar" class="avatar" src="" alt="">
    <span id="user-name" class="user-name"></span>
    <button id="logout-btn" class="btn btn-outline">ログアウト</button>
  </div>
</nav>`

var (
	ErrNoLoginFlow = errors.New("legacy: login flow not configured")
	ErrEmptyMarkup = errors.New("legacy: navigation markup is empty")
)

// Reloader performs a full page reload.
type Reloader interface {
	Reload()
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func()

func (f ReloaderFunc) Reload() { f() }

type Option func(*Controller)

// WithReloader sets what Logout calls once the reload delay has elapsed.
func WithReloader(r Reloader) Option {
	return func(c *Controller) { c.reloader = r }
}

func WithReloadDelay(d time.Duration) Option {
	return func(c *Controller) { c.reloadDelay = d }
}

// WithLoginFlow enables CompleteLogin.
func WithLoginFlow(f *auth.Flow) Option {
	return func(c *Controller) { c.flow = f }
}

type hookEntry struct {
	id uint64
	fn auth.TransitionHook
}

// Controller owns the navigation DOM.
type Controller struct {
	mu    sync.Mutex // guards doc and shown
	doc   *goquery.Document
	shown *auth.Identity

	hooksMu sync.RWMutex
	hooks   []hookEntry
	nextID  uint64

	store       *storage.Store
	flow        *auth.Flow
	reloader    Reloader
	reloadDelay time.Duration
	reloadMu    sync.Mutex
	reload      *time.Timer

	logger log.Log
}

var _ auth.AuthUIPresenter = (*Controller)(nil)

// New parses markup (NavHTML when empty) and returns a controller bound to
// store. store may be nil, in which case CheckAuthStatus renders anonymous.
func New(markup string, store *storage.Store, logger log.Log, opts ...Option) (*Controller, error) {
	if markup == "" {
		markup = NavHTML
	}
	if strings.TrimSpace(markup) == "" {
		return nil, ErrEmptyMarkup
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	c := &Controller{
		doc:         doc,
		store:       store,
		reloadDelay: DefaultReloadDelay,
		logger:      logger.With(log.String("component", "legacy_nav")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ShowAuthenticated renders the user menu for rec. It never fires hooks.
func (c *Controller) ShowAuthenticated(rec auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.doc.Find(selLoginButton).AddClass(classHidden)
	c.doc.Find(selUserMenu).RemoveClass(classHidden)
	c.doc.Find(selAvatar).SetAttr("src", rec.PictureURL).SetAttr("alt", rec.DisplayName)
	c.doc.Find(selDisplayName).SetText(rec.DisplayName)
	c.shown = rec.Clone()
}

// ShowAnonymous renders the login button. It never fires hooks.
func (c *Controller) ShowAnonymous() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.doc.Find(selUserMenu).AddClass(classHidden)
	c.doc.Find(selLoginButton).RemoveClass(classHidden)
	c.doc.Find(selAvatar).SetAttr("src", "").SetAttr("alt", "")
	c.doc.Find(selDisplayName).SetText("")
	c.shown = nil
}

// EnterAuthenticated is the authenticated transition: render, then notify
// every registered hook.
func (c *Controller) EnterAuthenticated(rec auth.Identity) {
	c.ShowAuthenticated(rec)
	c.fire(auth.TransitionAuthenticated, &rec)
}

// EnterAnonymous is the anonymous transition.
func (c *Controller) EnterAnonymous() {
	c.ShowAnonymous()
	c.fire(auth.TransitionAnonymous, nil)
}

// Intercept registers hook for both transitions. release is idempotent.
func (c *Controller) Intercept(hook auth.TransitionHook) (release func()) {
	c.hooksMu.Lock()
	id := c.nextID
	c.nextID++
	c.hooks = append(c.hooks, hookEntry{id: id, fn: hook})
	c.hooksMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.hooksMu.Lock()
			defer c.hooksMu.Unlock()
			for i, h := range c.hooks {
				if h.id == id {
					c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
					return
				}
			}
		})
	}
}

// HookCount reports the number of registered transition hooks.
func (c *Controller) HookCount() int {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return len(c.hooks)
}

// CheckAuthStatus renders whatever the store currently holds. This is what
// the page runs on load.
func (c *Controller) CheckAuthStatus() {
	snap := auth.Anonymous()
	if c.store != nil {
		snap = c.store.Snapshot()
	}
	if snap.LoggedIn {
		c.EnterAuthenticated(*snap.User)
		return
	}
	c.EnterAnonymous()
}

// CompleteLogin finishes the LINE callback for code and enters the
// authenticated state. On failure the navigation stays anonymous.
func (c *Controller) CompleteLogin(ctx context.Context, code string) (auth.Identity, error) {
	if c.flow == nil {
		return auth.Identity{}, ErrNoLoginFlow
	}
	sess, err := c.flow.Complete(ctx, code)
	if err != nil {
		c.logger.Warn("Login failed", log.Error(err))
		return auth.Identity{}, err
	}
	c.logger.Info("Login completed", log.String("user_id", sess.Identity.UserID))
	c.EnterAuthenticated(sess.Identity)
	return sess.Identity, nil
}

// Logout clears the credentials, enters the anonymous state and schedules a
// page reload. Repeated calls while a reload is pending do not stack.
func (c *Controller) Logout() {
	if c.store != nil {
		c.store.Clear()
	}
	c.EnterAnonymous()

	if c.reloader == nil {
		return
	}
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	if c.reload != nil {
		return
	}
	c.reload = time.AfterFunc(c.reloadDelay, func() {
		c.reloadMu.Lock()
		c.reload = nil
		c.reloadMu.Unlock()
		c.reloader.Reload()
	})
}

// ReloadPending reports whether a logout reload is scheduled.
func (c *Controller) ReloadPending() bool {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.reload != nil
}

// Close cancels a pending reload.
func (c *Controller) Close() {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	if c.reload != nil {
		c.reload.Stop()
		c.reload = nil
	}
}

// ShowingAuthenticated inspects the DOM: the user menu is visible and the
// login button is hidden.
func (c *Controller) ShowingAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showingAuthenticatedLocked()
}

func (c *Controller) showingAuthenticatedLocked() bool {
	menu := c.doc.Find(selUserMenu)
	return menu.Length() > 0 && !menu.HasClass(classHidden) &&
		c.doc.Find(selLoginButton).HasClass(classHidden)
}

// Rendered reports what the navigation currently shows.
func (c *Controller) Rendered() auth.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.showingAuthenticatedLocked() || c.shown == nil {
		return auth.Anonymous()
	}
	return auth.Authenticated(*c.shown)
}

// DisplayName returns the text of the user name element.
func (c *Controller) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(c.doc.Find(selDisplayName).Text())
}

// HTML renders the navigation element.
func (c *Controller) HTML() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nav := c.doc.Find("nav").First()
	if nav.Length() == 0 {
		return c.doc.Html()
	}
	return goquery.OuterHtml(nav)
}

func (c *Controller) fire(t auth.Transition, rec *auth.Identity) {
	c.hooksMu.RLock()
	targets := append([]hookEntry(nil), c.hooks...)
	c.hooksMu.RUnlock()

	for _, h := range targets {
		c.call(h, t, rec.Clone())
	}
}

func (c *Controller) call(h hookEntry, t auth.Transition, rec *auth.Identity) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Transition hook panicked",
				log.String("transition", t.String()),
				log.Any("panic", r))
		}
	}()
	h.fn(t, rec)
}
