// Package config loads khetbook settings from khetbook.toml, KHETBOOK_*
// environment variables and command-line flags.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/sync"
)

// Config holds all client configuration.
type Config struct {
	API          APIConfig          `mapstructure:"api" toml:"api"`
	Store        StoreConfig        `mapstructure:"store" toml:"store"`
	Sync         SyncConfig         `mapstructure:"sync" toml:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" toml:"connectivity"`
	Cache        CacheConfig        `mapstructure:"cache" toml:"cache"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard" toml:"dashboard"`
	Log          LogConfig          `mapstructure:"log" toml:"log"`
}

// APIConfig describes the remote API.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" toml:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" toml:"timeout"`
	TokenFile string        `mapstructure:"token_file" toml:"token_file"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// SyncConfig tunes the sync engine and its triggers.
type SyncConfig struct {
	// Policy is "drop-all" or "retry-server-errors".
	Policy         string        `mapstructure:"policy" toml:"policy"`
	RefreshPath    string        `mapstructure:"refresh_path" toml:"refresh_path"`
	StabilizeDelay time.Duration `mapstructure:"stabilize_delay" toml:"stabilize_delay"`
	StartupDelay   time.Duration `mapstructure:"startup_delay" toml:"startup_delay"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" toml:"retry_interval"`
}

// ConnectivityConfig tunes the reachability probe.
type ConnectivityConfig struct {
	Interval     time.Duration `mapstructure:"interval" toml:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" toml:"probe_timeout"`
}

// CacheConfig configures the caching proxy in front of the app origin.
type CacheConfig struct {
	Origin  string `mapstructure:"origin" toml:"origin"`
	Version string `mapstructure:"version" toml:"version"`
	Listen  string `mapstructure:"listen" toml:"listen"`
}

// DashboardConfig configures the status dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port" toml:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	File  string `mapstructure:"file" toml:"file"`
}

// DefaultConfig returns a configuration with the production defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://kisan-sathi-app.vercel.app/api",
			Timeout: 12 * time.Second,
		},
		Store: StoreConfig{
			Path: "khetbook.db",
		},
		Sync: SyncConfig{
			Policy:         sync.DropAll.String(),
			RefreshPath:    sync.DefaultRefreshPath,
			StabilizeDelay: 1500 * time.Millisecond,
			StartupDelay:   3 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			Interval:     5 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
		Cache: CacheConfig{
			Origin:  "https://kisan-sathi-app.vercel.app",
			Version: "v3",
			Listen:  "127.0.0.1:5173",
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if !isHTTPURL(c.API.BaseURL) {
		return ErrInvalidBaseURL
	}
	if c.Store.Path == "" {
		return ErrMissingStorePath
	}
	if _, err := sync.ParseRejectionPolicy(c.Sync.Policy); err != nil {
		return ErrInvalidPolicy
	}
	if c.Sync.StabilizeDelay < 0 || c.Sync.StartupDelay < 0 || c.Sync.RetryInterval < 0 {
		return ErrNegativeDuration
	}
	if c.Connectivity.Interval <= 0 {
		return ErrNegativeDuration
	}
	if c.Cache.Origin != "" && !isHTTPURL(c.Cache.Origin) {
		return ErrInvalidOrigin
	}
	if c.Cache.Version == "" {
		return ErrMissingCacheVersion
	}
	return nil
}

// Policy returns the parsed rejection policy. Call Validate first.
func (c *Config) Policy() sync.RejectionPolicy {
	p, _ := sync.ParseRejectionPolicy(c.Sync.Policy)
	return p
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (strings.EqualFold(u.Scheme, "http") || strings.EqualFold(u.Scheme, "https")) && u.Host != ""
}
