package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

type fakeStarter struct {
	inits    atomic.Int32
	destroys atomic.Int32
}

func (f *fakeStarter) Init()    { f.inits.Add(1) }
func (f *fakeStarter) Destroy() { f.destroys.Add(1) }

const bothSystems = `<html><body>
<nav id="legacy-nav"></nav>
<div id="app" data-router="history"></div>
</body></html>`

func TestPageClassification(t *testing.T) {
	for _, path := range []string{"", "/", "/index.html"} {
		assert.True(t, Page{Path: path}.IsHome(), path)
	}
	assert.False(t, Page{Path: "/pricing"}.IsHome())

	assert.True(t, Page{HasLegacyNav: true, HasModernApp: true}.NeedsSync())
	assert.False(t, Page{HasLegacyNav: true}.NeedsSync())
	assert.False(t, Page{HasModernApp: true}.NeedsSync())
}

func TestDetectMarkers(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		legacy bool
		modern bool
	}{
		{"both by id", bothSystems, true, true},
		{"data attributes", `<header data-legacy-nav></header><main data-speaka-app></main>`, true, true},
		{"legacy only", `<nav id="legacy-nav"></nav><div id="app"></div>`, true, false},
		{"neither", `<p>hello</p>`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePage("/", tt.markup)
			require.NoError(t, err)
			assert.Equal(t, tt.legacy, p.HasLegacyNav)
			assert.Equal(t, tt.modern, p.HasModernApp)
		})
	}
	assert.Equal(t, Page{Path: "/x"}, DetectMarkers("/x", nil))
}

func TestRunStartsOnceAfterDelay(t *testing.T) {
	page, err := ParsePage("/", bothSystems)
	require.NoError(t, err)

	starter := &fakeStarter{}
	var built atomic.Int32
	d := New(page, func(Page) (Starter, error) {
		built.Add(1)
		return starter, nil
	}, log.Nop(), WithDelay(10*time.Millisecond))

	begin := time.Now()
	got := d.Run(context.Background())
	assert.GreaterOrEqual(t, time.Since(begin), 10*time.Millisecond)
	assert.Same(t, starter, got)
	assert.Equal(t, int32(1), starter.inits.Load())

	assert.Nil(t, d.Run(context.Background()))
	assert.Equal(t, int32(1), built.Load())
	assert.Same(t, starter, d.Synchronizer())

	d.Stop()
	d.Stop()
	assert.Equal(t, int32(1), starter.destroys.Load())
}

func TestRunSkipsSinglePageSystems(t *testing.T) {
	called := false
	d := New(Page{Path: "/", HasLegacyNav: true}, func(Page) (Starter, error) {
		called = true
		return &fakeStarter{}, nil
	}, log.Nop(), WithDelay(time.Millisecond))

	assert.Nil(t, d.Run(context.Background()))
	assert.False(t, called)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	d := New(Page{HasLegacyNav: true, HasModernApp: true}, func(Page) (Starter, error) {
		called = true
		return &fakeStarter{}, nil
	}, log.Nop(), WithDelay(time.Second))

	assert.Nil(t, d.Run(ctx))
	assert.False(t, called)
}

func TestRunLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := log.NewWithCore(core)
	page := Page{HasLegacyNav: true, HasModernApp: true}

	factories := map[string]Factory{
		"error":  func(Page) (Starter, error) { return nil, errors.New("no state") },
		"nil":    func(Page) (Starter, error) { return nil, nil },
		"panic":  func(Page) (Starter, error) { panic("late script") },
		"absent": nil,
	}
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			d := New(page, f, logger, WithDelay(time.Millisecond))
			var got Starter
			assert.NotPanics(t, func() { got = d.Run(context.Background()) })
			assert.Nil(t, got)
		})
	}
	assert.Equal(t, len(factories),
		logs.FilterMessage("Failed to start auth synchronizer").FilterField(zap.String("component", "bootstrap")).Len())
}
