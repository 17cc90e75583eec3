package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g.
// KHETBOOK_API_BASE_URL overrides api.base_url.
const EnvPrefix = "KHETBOOK"

// DefaultFileName is looked up in the working directory when no path is
// given.
const DefaultFileName = "khetbook.toml"

// Loader reads Config through viper. Flags bound with BindFlag take
// precedence over the environment, which takes precedence over the file.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for path. An empty path looks for
// khetbook.toml in the working directory and tolerates its absence.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.AddConfigPath(".")
	}
	return &Loader{v: v, path: path}
}

// BindFlag binds a command-line flag to a config key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("flag for %s is nil", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the file (if any) and returns the merged configuration.
// Validation is left to the caller so flag overrides can apply first.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && l.path == "":
			// No default file; defaults and environment only.
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, l.path)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// File returns the config file in use, or "" when none was read.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Write stores cfg as TOML at path. It refuses to overwrite an existing
// file unless force is set.
func Write(path string, cfg *Config, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// defaults flattens DefaultConfig into viper keys. Every key needs a
// default for AutomaticEnv to find its variable during Unmarshal.
func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"api.base_url":               d.API.BaseURL,
		"api.timeout":                d.API.Timeout,
		"api.token_file":             d.API.TokenFile,
		"store.path":                 d.Store.Path,
		"sync.policy":                d.Sync.Policy,
		"sync.refresh_path":          d.Sync.RefreshPath,
		"sync.stabilize_delay":       d.Sync.StabilizeDelay,
		"sync.startup_delay":         d.Sync.StartupDelay,
		"sync.retry_interval":        d.Sync.RetryInterval,
		"connectivity.interval":      d.Connectivity.Interval,
		"connectivity.probe_timeout": d.Connectivity.ProbeTimeout,
		"cache.origin":               d.Cache.Origin,
		"cache.version":              d.Cache.Version,
		"cache.listen":               d.Cache.Listen,
		"dashboard.port":             d.Dashboard.Port,
		"log.level":                  d.Log.Level,
		"log.file":                   d.Log.File,
	}
}
