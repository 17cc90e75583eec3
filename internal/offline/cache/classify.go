package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Strategy is how a request is answered.
type Strategy int

const (
	// PassThrough forwards the request untouched.
	PassThrough Strategy = iota
	// CacheFirst answers from the cache and only fetches on a miss.
	CacheFirst
	// NetworkFirst fetches and falls back to the cache on failure.
	NetworkFirst
	// StaleWhileRevalidate answers from the cache and refreshes it in
	// the background.
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case PassThrough:
		return "pass-through"
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "unknown"
	}
}

// Route is the classification of one request.
type Route struct {
	Strategy  Strategy
	Namespace string
}

// Classify picks the strategy and namespace for req. Rules are applied in
// order and the first match wins.
func (c *Config) Classify(req *http.Request) Route {
	if req.Method != http.MethodGet {
		return Route{Strategy: PassThrough}
	}
	u := req.URL
	if u.Scheme != "http" && u.Scheme != "https" {
		return Route{Strategy: PassThrough}
	}
	raw := u.String()
	for _, s := range c.Bypass {
		if s != "" && strings.Contains(raw, s) {
			return Route{Strategy: PassThrough}
		}
	}

	host := u.Hostname()
	for _, h := range c.ThirdPartyHosts {
		if strings.EqualFold(host, h) {
			return Route{Strategy: CacheFirst, Namespace: c.FontsNamespace()}
		}
	}

	if !c.sameOrigin(u) {
		return Route{Strategy: PassThrough}
	}
	if strings.HasPrefix(u.Path, c.APIPrefix) {
		return Route{Strategy: NetworkFirst, Namespace: c.APINamespace()}
	}
	return Route{Strategy: StaleWhileRevalidate, Namespace: c.ShellNamespace()}
}

// sameOrigin compares hosts only, like the browser rule it replaces: the
// app and its API may be served on different ports of the same machine.
func (c *Config) sameOrigin(u *url.URL) bool {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), origin.Hostname())
}

// IsNavigation reports whether req loads a page rather than a
// subresource.
func IsNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
