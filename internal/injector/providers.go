package injector

import (
	"context"
	"fmt"
	"time"

	"github.com/ivi39c/speaka-sub000/internal/config"
	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/bootstrap"
	"github.com/ivi39c/speaka-sub000/internal/core/bridge"
	"github.com/ivi39c/speaka-sub000/internal/core/events/bus"
	"github.com/ivi39c/speaka-sub000/internal/core/legacy"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/core/state"
	"github.com/ivi39c/speaka-sub000/internal/core/storage"
	"github.com/ivi39c/speaka-sub000/internal/server"
)

const relayDialTimeout = 5 * time.Second

// Storage is the configured backend plus the channel other writers'
// changes arrive on. Watcher is nil when nothing else can write.
type Storage struct {
	Backend storage.Backend
	Watcher storage.Watcher
}

// App is one page's worth of wired services.
type App struct {
	Config   config.Config
	Logger   log.Log
	Store    *storage.Store
	Bus      bus.Dispatcher
	State    *state.AppState
	Legacy   *legacy.Controller
	Sync     *bridge.Synchronizer
	Detector *bootstrap.Detector
}

// Start renders the legacy navigation from the store and runs the
// bootstrap, which starts the synchronizer when both systems are present.
func (a *App) Start(ctx context.Context) {
	if a.Config.Features.LegacyNav {
		a.Legacy.CheckAuthStatus()
	}
	a.Detector.Run(ctx)
}

// Close stops the synchronizer and any pending reload.
func (a *App) Close() {
	a.Detector.Stop()
	a.Sync.Destroy()
	a.Legacy.Close()
}

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(cfg.Log.Level)
}

// ProvideStorage opens the configured backend and, when a relay URL is set,
// joins the relay.
func ProvideStorage(cfg config.Config, logger log.Log) (Storage, func(), error) {
	var (
		local   storage.Backend
		watcher storage.Watcher
		closer  func()
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return Storage{}, nil, err
		}
		local = db
		closer = func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close sqlite storage", log.Error(err))
			}
		}
	default:
		tab := storage.NewMemory().Tab()
		local, watcher = tab, tab
		closer = func() { _ = tab.Close() }
	}

	if cfg.Relay.URL == "" {
		return Storage{Backend: local, Watcher: watcher}, closer, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayDialTimeout)
	defer cancel()
	relayed, err := storage.DialRelay(ctx, cfg.Relay.URL, local, logger)
	if err != nil {
		closer()
		return Storage{}, nil, fmt.Errorf("join relay: %w", err)
	}
	return Storage{Backend: relayed, Watcher: relayed}, func() {
		_ = relayed.Close()
		closer()
	}, nil
}

func ProvideStore(st Storage, logger log.Log) *storage.Store {
	return storage.NewStore(st.Backend, logger)
}

func ProvideDispatcher(logger log.Log) bus.Dispatcher {
	return bus.New(logger)
}

func ProvideAppState(cfg config.Config, store *storage.Store, d bus.Dispatcher, logger log.Log) *state.AppState {
	return state.New(store, d, logger, state.WithHistoryCapacity(cfg.Sync.HistoryCapacity))
}

func ProvideAuthClient(cfg config.Config) *auth.Client {
	return auth.NewClient(cfg.LINE.BackendURL)
}

func ProvideFlow(cfg config.Config, client *auth.Client, store *storage.Store) *auth.Flow {
	f := auth.NewFlow(client, store, cfg.LINE.RedirectURI)
	f.MockProfiles = cfg.LINE.MockProfiles
	return f
}

// ProvideReloader logs reload requests; a process has no page to reload.
func ProvideReloader(logger log.Log) legacy.Reloader {
	return legacy.ReloaderFunc(func() {
		logger.Info("Page reload requested")
	})
}

func ProvideLegacy(cfg config.Config, store *storage.Store, flow *auth.Flow, reloader legacy.Reloader, logger log.Log) (*legacy.Controller, error) {
	return legacy.New(legacy.NavHTML, store, logger,
		legacy.WithLoginFlow(flow),
		legacy.WithReloader(reloader),
		legacy.WithReloadDelay(cfg.Sync.ReloadDelay))
}

// ProvideSynchronizer leaves out whichever system the configuration says
// is absent.
func ProvideSynchronizer(cfg config.Config, nav *legacy.Controller, app *state.AppState, store *storage.Store, d bus.Dispatcher, st Storage, logger log.Log) *bridge.Synchronizer {
	opts := bridge.Options{
		Store:        store,
		Bus:          d,
		Watcher:      st.Watcher,
		Logger:       logger,
		RecheckDelay: cfg.Sync.RecheckDelay,
	}
	if cfg.Features.LegacyNav {
		opts.Legacy = nav
	}
	if cfg.Features.ModernApp {
		opts.Modern = app
	}
	return bridge.New(opts)
}

func ProvideDetector(cfg config.Config, s *bridge.Synchronizer, logger log.Log) *bootstrap.Detector {
	page := bootstrap.Page{
		Path:         "/",
		HasLegacyNav: cfg.Features.LegacyNav,
		HasModernApp: cfg.Features.ModernApp,
	}
	factory := func(bootstrap.Page) (bootstrap.Starter, error) { return s, nil }
	return bootstrap.New(page, factory, logger, bootstrap.WithDelay(cfg.Sync.BootstrapDelay))
}

func ProvideServerConfig(cfg config.Config) server.Config {
	sc := server.DefaultServerConfig()
	sc.ListenAddr = cfg.Server.Addr
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout
	return sc
}
