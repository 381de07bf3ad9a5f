// Package config loads speaka's runtime configuration from a YAML or TOML
// file, falling back to defaults when the file is missing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

const (
	EnvLogLevel = "SPEAKA_LOG_LEVEL"
	EnvAddr     = "SPEAKA_ADDR"

	defaultAddr        = "127.0.0.1:8787"
	defaultRedirectURI = "http://127.0.0.1:8787/auth/callback"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file extension")
	ErrInvalidConfig     = errors.New("config: invalid configuration")
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Relay    RelayConfig
	Sync     SyncConfig
	Log      LogConfig
	Features FeaturesConfig
	LINE     LINEConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// StorageConfig selects the persistent backend: "memory" or "sqlite".
type StorageConfig struct {
	Backend string
	Path    string
}

// RelayConfig points at the cross-process storage relay. An empty URL
// disables it.
type RelayConfig struct {
	URL string
}

type SyncConfig struct {
	RecheckDelay    time.Duration
	BootstrapDelay  time.Duration
	ReloadDelay     time.Duration
	HistoryCapacity int
}

type LogConfig struct {
	Level log.Level
}

// FeaturesConfig declares which UI systems the page carries. It replaces
// probing the DOM when both are known up front.
type FeaturesConfig struct {
	LegacyNav bool
	ModernApp bool
}

type LINEConfig struct {
	ChannelID    string
	RedirectURI  string
	BackendURL   string
	MockProfiles bool
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            defaultAddr,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{Backend: "memory"},
		Sync: SyncConfig{
			RecheckDelay:    100 * time.Millisecond,
			BootstrapDelay:  200 * time.Millisecond,
			ReloadDelay:     500 * time.Millisecond,
			HistoryCapacity: 10,
		},
		Log:      LogConfig{Level: log.LevelInfo},
		Features: FeaturesConfig{LegacyNav: true, ModernApp: true},
		LINE: LINEConfig{
			RedirectURI:  defaultRedirectURI,
			BackendURL:   "http://" + defaultAddr,
			MockProfiles: true,
		},
	}
}

// file is the on-disk shape shared by both formats. Durations are strings
// such as "100ms".
type file struct {
	Server struct {
		Addr            string `yaml:"addr" toml:"addr"`
		ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	} `yaml:"server" toml:"server"`
	Storage struct {
		Backend string `yaml:"backend" toml:"backend"`
		Path    string `yaml:"path" toml:"path"`
	} `yaml:"storage" toml:"storage"`
	Relay struct {
		URL string `yaml:"url" toml:"url"`
	} `yaml:"relay" toml:"relay"`
	Sync struct {
		RecheckDelay    string `yaml:"recheck_delay" toml:"recheck_delay"`
		BootstrapDelay  string `yaml:"bootstrap_delay" toml:"bootstrap_delay"`
		ReloadDelay     string `yaml:"reload_delay" toml:"reload_delay"`
		HistoryCapacity int    `yaml:"history_capacity" toml:"history_capacity"`
	} `yaml:"sync" toml:"sync"`
	Log struct {
		Level string `yaml:"level" toml:"level"`
	} `yaml:"log" toml:"log"`
	Features *struct {
		LegacyNav bool `yaml:"legacy_nav" toml:"legacy_nav"`
		ModernApp bool `yaml:"modern_app" toml:"modern_app"`
	} `yaml:"features" toml:"features"`
	LINE struct {
		ChannelID    string `yaml:"channel_id" toml:"channel_id"`
		RedirectURI  string `yaml:"redirect_uri" toml:"redirect_uri"`
		BackendURL   string `yaml:"backend_url" toml:"backend_url"`
		MockProfiles *bool  `yaml:"mock_profiles" toml:"mock_profiles"`
	} `yaml:"line" toml:"line"`
}

// Load reads path (.yaml, .yml or .toml). An empty path or a missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			var f file
			if err := decode(path, raw, &f); err != nil {
				return Config{}, err
			}
			if err := f.apply(&cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, raw []byte, f *file) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, f); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, f); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return nil
}

func (f file) apply(cfg *Config) error {
	setString(&cfg.Server.Addr, f.Server.Addr)
	setString(&cfg.Storage.Backend, f.Storage.Backend)
	setString(&cfg.Storage.Path, f.Storage.Path)
	setString(&cfg.Relay.URL, f.Relay.URL)
	setString(&cfg.LINE.ChannelID, f.LINE.ChannelID)
	setString(&cfg.LINE.RedirectURI, f.LINE.RedirectURI)
	setString(&cfg.LINE.BackendURL, f.LINE.BackendURL)
	if f.LINE.MockProfiles != nil {
		cfg.LINE.MockProfiles = *f.LINE.MockProfiles
	}
	if f.Features != nil {
		cfg.Features = FeaturesConfig{LegacyNav: f.Features.LegacyNav, ModernApp: f.Features.ModernApp}
	}
	if f.Sync.HistoryCapacity != 0 {
		cfg.Sync.HistoryCapacity = f.Sync.HistoryCapacity
	}
	if lvl := strings.TrimSpace(f.Log.Level); lvl != "" {
		cfg.Log.Level = log.ParseLevel(lvl)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", f.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"sync.recheck_delay", f.Sync.RecheckDelay, &cfg.Sync.RecheckDelay},
		{"sync.bootstrap_delay", f.Sync.BootstrapDelay, &cfg.Sync.BootstrapDelay},
		{"sync.reload_delay", f.Sync.ReloadDelay, &cfg.Sync.ReloadDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = log.ParseLevel(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate checks the fields other packages rely on.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Sync.HistoryCapacity < 1 {
		return fmt.Errorf("%w: sync.history_capacity must be positive", ErrInvalidConfig)
	}
	if c.Sync.RecheckDelay <= 0 || c.Sync.BootstrapDelay < 0 || c.Sync.ReloadDelay < 0 {
		return fmt.Errorf("%w: negative or zero delay", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
