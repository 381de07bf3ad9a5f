package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivi39c/speaka-sub000/internal/config"
	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/server"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "speaka", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "login", "logout", "status"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"status", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "invalid format")
}

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(config.EnvAddr, "")

	srv, err := server.NewServer(server.DefaultServerConfig(), log.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	body := fmt.Sprintf(`
storage:
  backend: sqlite
  path: %s
sync:
  bootstrap_delay: 1ms
  recheck_delay: 5ms
  reload_delay: 1ms
log:
  level: silent
line:
  backend_url: %s
`, filepath.Join(dir, "speaka.db"), ts.URL)
	path := filepath.Join(dir, "speaka.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginStatusLogout(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "login", "--config", path, "--code", "cli", "--format", "json")
	require.NoError(t, err)
	var r StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.LoggedIn)
	assert.True(t, r.StoreState)
	assert.True(t, r.LegacyNav)
	assert.Equal(t, "ready", r.SyncStatus)
	assert.Equal(t, auth.MockIdentity("cli").UserID, r.User.UserID)

	out, err = run(t, "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as "+auth.MockIdentity("cli").DisplayName)

	out, err = run(t, "logout", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")

	out, err = run(t, "status", "--config", path, "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.False(t, r.LoggedIn)
	assert.False(t, r.StoreState)
}

func TestLoginRequiresCode(t *testing.T) {
	path := writeConfig(t)
	_, err := run(t, "login", "--config", path)
	assert.Error(t, err)
}
