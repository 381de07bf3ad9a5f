package injector

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivi39c/speaka-sub000/internal/config"
	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/bridge"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/server"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = log.LevelSilent
	cfg.Sync.BootstrapDelay = time.Millisecond
	cfg.Sync.RecheckDelay = 5 * time.Millisecond
	cfg.Sync.ReloadDelay = 5 * time.Millisecond

	srv, err := server.NewServer(server.DefaultServerConfig(), log.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	cfg.LINE.BackendURL = ts.URL
	return cfg
}

func TestInitializeAppWiresBothSystems(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	defer cleanup()
	defer app.Close()

	app.Start(context.Background())
	require.Equal(t, bridge.StatusReady, app.Sync.Status())

	rec, err := app.Legacy.CompleteLogin(context.Background(), "wired")
	require.NoError(t, err)
	assert.Equal(t, auth.MockIdentity("wired"), rec)

	s := app.State.GetState()
	assert.True(t, s.IsLoggedIn)
	assert.Equal(t, rec.DisplayName, s.User.DisplayName)

	app.State.Logout()
	assert.False(t, app.Legacy.ShowingAuthenticated())
	assert.False(t, app.Store.IsLoggedIn())
}

func TestInitializeAppUsesProfileEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.LINE.MockProfiles = false
	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()
	defer app.Close()

	rec, err := app.Legacy.CompleteLogin(context.Background(), "remote")
	require.NoError(t, err)
	assert.Equal(t, auth.MockIdentity("remote"), rec)
}

func TestInitializeAppSingleSystemSkipsSync(t *testing.T) {
	cfg := testConfig(t)
	cfg.Features.ModernApp = false
	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()
	defer app.Close()

	app.Start(context.Background())
	assert.Equal(t, bridge.StatusUninitialized, app.Sync.Status())
	assert.Nil(t, app.Detector.Synchronizer())
}

func TestInitializeAppSQLitePersists(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "speaka.db")

	first, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NoError(t, first.State.Login(auth.Identity{UserID: "u1", DisplayName: "Ann"}, "tok"))
	first.Close()
	cleanup()

	second, cleanup2, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup2()
	defer second.Close()

	assert.True(t, second.State.GetState().IsLoggedIn)
	second.Start(context.Background())
	assert.True(t, second.Legacy.ShowingAuthenticated())
}

func TestInitializeServer(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = log.LevelSilent
	cfg.Server.Addr = "127.0.0.1:0"
	s, err := InitializeServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.NotEmpty(t, s.Addr())
	require.NoError(t, s.Stop(context.Background()))
}
