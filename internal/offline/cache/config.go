package cache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Response header values marking responses the proxy produced itself.
const (
	HeaderCache  = "X-Khetbook-Cache"
	CacheHit     = "hit"
	CacheOffline = "offline"
)

// Config configures the caching proxy.
type Config struct {
	// Origin is the application's own origin, e.g. http://localhost:5173.
	// Requests to other hosts are cross-origin.
	Origin string

	// Prefix and Version name the namespaces: <prefix>-shell-<version>,
	// <prefix>-api-<version>, <prefix>-fonts-<version>. Bumping Version
	// retires every namespace of the previous one at the next Activate.
	Prefix  string
	Version string

	// Precache lists same-origin paths fetched by Install.
	Precache []string

	// ShellPath is served to navigations that cannot reach the network.
	ShellPath string

	// ThirdPartyHosts are cross-origin hosts cached cache-first.
	ThirdPartyHosts []string

	// APIPrefix marks same-origin data requests (network-first).
	APIPrefix string

	// Bypass lists URL substrings that are never intercepted (dev-server
	// hot reload traffic).
	Bypass []string

	// Logger for proxy activity
	Logger zerolog.Logger
}

// DefaultConfig returns the stock configuration for origin.
func DefaultConfig(origin string) *Config {
	return &Config{
		Origin:    origin,
		Prefix:    "khetbook",
		Version:   "v3",
		Precache:  []string{"/", "/index.html", "/logo.png"},
		ShellPath: "/index.html",
		ThirdPartyHosts: []string{
			"fonts.googleapis.com",
			"fonts.gstatic.com",
			"accounts.google.com",
		},
		APIPrefix: "/api/",
		Bypass:    []string{"hot-update", "@vite", "__vite"},
		Logger:    zerolog.Nop(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http or https, got %q", c.Origin)
	}
	if u.Host == "" {
		return fmt.Errorf("origin %q has no host", c.Origin)
	}
	if c.Prefix == "" || c.Version == "" {
		return fmt.Errorf("cache prefix and version are required")
	}
	if c.APIPrefix == "" || !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api prefix must start with /, got %q", c.APIPrefix)
	}
	for _, p := range c.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache path must start with /, got %q", p)
		}
	}
	return nil
}

// ShellNamespace holds the precached application shell and same-origin
// static assets.
func (c *Config) ShellNamespace() string { return c.namespace("shell") }

// APINamespace holds responses to data requests.
func (c *Config) APINamespace() string { return c.namespace("api") }

// FontsNamespace holds third-party font and auth assets.
func (c *Config) FontsNamespace() string { return c.namespace("fonts") }

// Known returns the namespaces of the current version.
func (c *Config) Known() []string {
	return []string{c.ShellNamespace(), c.APINamespace(), c.FontsNamespace()}
}

func (c *Config) namespace(kind string) string {
	return c.Prefix + "-" + kind + "-" + c.Version
}
