package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/sync"
)

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, ErrMissingBaseURL},
		{"base url without scheme", func(c *Config) { c.API.BaseURL = "localhost:5000/api" }, ErrInvalidBaseURL},
		{"missing store", func(c *Config) { c.Store.Path = "" }, ErrMissingStorePath},
		{"unknown policy", func(c *Config) { c.Sync.Policy = "keep-everything" }, ErrInvalidPolicy},
		{"negative delay", func(c *Config) { c.Sync.StabilizeDelay = -time.Second }, ErrNegativeDuration},
		{"zero probe interval", func(c *Config) { c.Connectivity.Interval = 0 }, ErrNegativeDuration},
		{"bad origin", func(c *Config) { c.Cache.Origin = "ftp://example.com" }, ErrInvalidOrigin},
		{"missing cache version", func(c *Config) { c.Cache.Version = "" }, ErrMissingCacheVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoad_Defaults tests that no file yields the defaults
func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	want := DefaultConfig()
	if cfg.API.BaseURL != want.API.BaseURL || cfg.Sync.StabilizeDelay != 1500*time.Millisecond || cfg.Sync.StartupDelay != 3*time.Second {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
	if cfg.Policy() != sync.DropAll {
		t.Errorf("Policy() = %v, want DropAll", cfg.Policy())
	}
}

// TestLoad_EnvironmentOverrides tests KHETBOOK_* variables
func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KHETBOOK_API_BASE_URL", "http://localhost:5000/api")
	t.Setenv("KHETBOOK_SYNC_POLICY", "retry-server-errors")
	t.Setenv("KHETBOOK_SYNC_STABILIZE_DELAY", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Policy() != sync.RetryServerErrors {
		t.Errorf("Policy() = %v, want RetryServerErrors", cfg.Policy())
	}
	if cfg.Sync.StabilizeDelay != 2*time.Second {
		t.Errorf("Sync.StabilizeDelay = %v, want 2s", cfg.Sync.StabilizeDelay)
	}
}

// TestWriteThenLoad tests that a written file is read back
func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", DefaultFileName)

	cfg := DefaultConfig()
	cfg.Store.Path = "/var/lib/khetbook/offline.db"
	cfg.Cache.Version = "v4"
	if err := Write(path, cfg, false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := Write(path, cfg, false); err == nil {
		t.Error("Write() overwrote an existing file without force")
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Store.Path != cfg.Store.Path || got.Cache.Version != "v4" {
		t.Errorf("Load() = %+v", got)
	}
	if got.Sync.StabilizeDelay != cfg.Sync.StabilizeDelay {
		t.Errorf("Sync.StabilizeDelay = %v, want %v", got.Sync.StabilizeDelay, cfg.Sync.StabilizeDelay)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestLoad_BadFiles tests errors for explicit files
func TestLoad_BadFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Load() of a missing explicit file succeeded")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[api\nbase_url = "), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := Load(bad); !errors.Is(err, ErrInvalidConfigFormat) {
		t.Errorf("Load() error = %v, want ErrInvalidConfigFormat", err)
	}
}

// TestBindFlag tests that flags override file and environment
func TestBindFlag(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KHETBOOK_STORE_PATH", "env.db")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "", "database path")
	if err := flags.Parse([]string{"--db", "flag.db"}); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	l := NewLoader("")
	if err := l.BindFlag("store.path", flags.Lookup("db")); err != nil {
		t.Fatalf("BindFlag() failed: %v", err)
	}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Store.Path != "flag.db" {
		t.Errorf("Store.Path = %q, want flag.db", cfg.Store.Path)
	}

	if err := l.BindFlag("store.path", nil); err == nil {
		t.Error("BindFlag(nil) succeeded")
	}
}
