// Package bootstrap decides once per page load whether the two UI systems
// need synchronizing and starts the synchronizer when they do.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

// DefaultDelay gives late scripts time to register before the synchronizer
// starts.
const DefaultDelay = 200 * time.Millisecond

const (
	legacyMarkers = "#legacy-nav, [data-legacy-nav]"
	modernMarkers = "#app[data-router], [data-speaka-app]"
)

var (
	ErrNoFactory       = errors.New("bootstrap: synchronizer factory not configured")
	ErrNilSynchronizer = errors.New("bootstrap: factory returned no synchronizer")
)

// Page describes the loaded page.
type Page struct {
	Path         string
	HasLegacyNav bool
	HasModernApp bool
}

// IsHome reports whether the page is the landing page.
func (p Page) IsHome() bool {
	switch strings.TrimSpace(p.Path) {
	case "", "/", "/index.html":
		return true
	}
	return false
}

// NeedsSync is true only when both systems are on the page.
func (p Page) NeedsSync() bool {
	return p.HasLegacyNav && p.HasModernApp
}

// DetectMarkers probes doc for the two systems' root elements.
func DetectMarkers(path string, doc *goquery.Document) Page {
	p := Page{Path: path}
	if doc == nil {
		return p
	}
	p.HasLegacyNav = doc.Find(legacyMarkers).Length() > 0
	p.HasModernApp = doc.Find(modernMarkers).Length() > 0
	return p
}

// ParsePage parses markup and probes it.
func ParsePage(path, markup string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Page{Path: path}, fmt.Errorf("bootstrap: parse page: %w", err)
	}
	return DetectMarkers(path, doc), nil
}

// Starter is a started synchronizer.
type Starter interface {
	Init()
	Destroy()
}

// Factory builds the synchronizer for page.
type Factory func(page Page) (Starter, error)

// Detector runs the page bootstrap.
type Detector struct {
	page    Page
	factory Factory
	delay   time.Duration
	logger  log.Log

	mu      sync.Mutex
	started bool
	sync    Starter
}

type Option func(*Detector)

func WithDelay(d time.Duration) Option {
	return func(det *Detector) { det.delay = d }
}

func New(page Page, factory Factory, logger log.Log, opts ...Option) *Detector {
	d := &Detector{
		page:    page,
		factory: factory,
		delay:   DefaultDelay,
		logger:  logger.With(log.String("component", "bootstrap")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Page returns the page the detector classified.
func (d *Detector) Page() Page { return d.page }

// Run waits for the bootstrap delay and starts the synchronizer when the
// page needs one. Only the first call does anything. Failures are logged;
// the returned Starter is nil when nothing was started.
func (d *Detector) Run(ctx context.Context) Starter {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		d.logger.Debug("Bootstrap already ran")
		return nil
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("Page classified",
		log.String("path", d.page.Path),
		log.Bool("home", d.page.IsHome()),
		log.Bool("legacy", d.page.HasLegacyNav),
		log.Bool("modern", d.page.HasModernApp))

	if !d.page.NeedsSync() {
		return nil
	}

	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		d.logger.Warn("Bootstrap cancelled before sync start", log.Error(ctx.Err()))
		return nil
	case <-timer.C:
	}

	s, err := d.start()
	if err != nil {
		d.logger.Error("Failed to start auth synchronizer", log.Error(err))
		return nil
	}
	d.mu.Lock()
	d.sync = s
	d.mu.Unlock()
	return s
}

func (d *Detector) start() (s Starter, err error) {
	if d.factory == nil {
		return nil, ErrNoFactory
	}
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("bootstrap: synchronizer start panicked: %v", r)
		}
	}()
	s, err = d.factory(d.page)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNilSynchronizer
	}
	s.Init()
	return s, nil
}

// Synchronizer returns what Run started, or nil.
func (d *Detector) Synchronizer() Starter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sync
}

// Stop destroys a started synchronizer.
func (d *Detector) Stop() {
	d.mu.Lock()
	s := d.sync
	d.sync = nil
	d.mu.Unlock()
	if s != nil {
		s.Destroy()
	}
}
