// Package cache intercepts outgoing GET requests and answers them from a
// persistent, namespaced response cache.
//
// A Proxy sits in front of an http.RoundTripper (or, through ServeHTTP, in
// front of the application origin) and routes each request to one of
// three strategies:
//
//	third-party fonts/auth hosts → cache-first           (<prefix>-fonts-<version>)
//	same-origin /api/...         → network-first         (<prefix>-api-<version>)
//	other same-origin GETs       → stale-while-revalidate (<prefix>-shell-<version>)
//
// Everything else, including every non-GET, passes through untouched.
// Until Activate has run the proxy does not intercept anything.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var errOffline = errors.New("offline")

// maxCachedBody caps the size of a body the proxy is willing to store.
const maxCachedBody = 32 << 20

// Proxy is the caching interceptor.
type Proxy struct {
	storage *Storage
	next    http.RoundTripper

	cfg    atomic.Pointer[Config]
	active atomic.Bool
	online atomic.Pointer[Connectivity]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a proxy that stores into storage and forwards network
// traffic to next (http.DefaultTransport when nil).
func New(storage *Storage, cfg *Config, next http.RoundTripper) (*Proxy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if next == nil {
		next = http.DefaultTransport
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Proxy{
		storage: storage,
		next:    next,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cfg.Store(cfg)
	return p, nil
}

// Connectivity reports whether the network is believed reachable.
type Connectivity interface {
	Online() bool
}

// UseConnectivity makes the proxy skip network attempts while c reports
// offline: cached copies are served without a background refresh and
// misses fall straight back to the offline answer.
func (p *Proxy) UseConnectivity(c Connectivity) {
	p.online.Store(&c)
}

// offline reports a known-offline state. Without a connectivity source
// the proxy always tries the network.
func (p *Proxy) offline() bool {
	c := p.online.Load()
	return c != nil && *c != nil && !(*c).Online()
}

// Config returns the configuration in effect.
func (p *Proxy) Config() *Config {
	return p.cfg.Load()
}

// Reconfigure swaps the configuration. A new version takes effect for
// lookups at once; old namespaces are removed by the next Activate.
func (p *Proxy) Reconfigure(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}
	p.cfg.Store(cfg)
	return nil
}

func (p *Proxy) logger() *zerolog.Logger {
	l := p.cfg.Load().Logger
	return &l
}

// Active reports whether the proxy intercepts requests.
func (p *Proxy) Active() bool {
	return p.active.Load()
}

// Install fetches every precache path and stores it in the shell
// namespace, then activates the proxy. If any fetch fails nothing is
// stored and the proxy stays as it was.
func (p *Proxy) Install(ctx context.Context) error {
	cfg := p.cfg.Load()
	ns := cfg.ShellNamespace()

	entries := make([]*Entry, 0, len(cfg.Precache))
	for _, path := range cfg.Precache {
		target := strings.TrimRight(cfg.Origin, "/") + path
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("failed to build precache request for %s: %w", path, err)
		}
		resp, err := p.next.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("failed to precache %s: %w", path, err)
		}
		body, err := readBody(resp)
		if err != nil {
			return fmt.Errorf("failed to precache %s: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("failed to precache %s: status %d", path, resp.StatusCode)
		}
		entries = append(entries, &Entry{
			Method: http.MethodGet,
			URL:    req.URL.String(),
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   body,
		})
	}

	if err := p.storage.Open(ctx, ns); err != nil {
		return fmt.Errorf("failed to open %s: %w", ns, err)
	}
	for _, e := range entries {
		if err := p.storage.Put(ctx, ns, e); err != nil {
			return fmt.Errorf("failed to store %s: %w", e.URL, err)
		}
	}
	p.logger().Info().Str("namespace", ns).Int("entries", len(entries)).Msg("shell precached")

	return p.Activate(ctx)
}

// Activate deletes every namespace that does not belong to the current
// version and starts intercepting.
func (p *Proxy) Activate(ctx context.Context) error {
	cfg := p.cfg.Load()
	known := make(map[string]bool)
	for _, ns := range cfg.Known() {
		known[ns] = true
	}

	names, err := p.storage.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to list caches: %w", err)
	}
	for _, name := range names {
		if known[name] {
			continue
		}
		if err := p.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
		p.logger().Info().Str("namespace", name).Msg("stale cache deleted")
	}

	p.active.Store(true)
	return nil
}

// RoundTrip implements http.RoundTripper.
func (p *Proxy) RoundTrip(req *http.Request) (*http.Response, error) {
	if !p.active.Load() {
		return p.next.RoundTrip(req)
	}

	cfg := p.cfg.Load()
	route := cfg.Classify(req)
	p.logger().Debug().
		Str("url", req.URL.String()).
		Stringer("strategy", route.Strategy).
		Msg("intercepted request")

	switch route.Strategy {
	case CacheFirst:
		return p.cacheFirst(req, route.Namespace), nil
	case NetworkFirst:
		return p.networkFirst(req, route.Namespace), nil
	case StaleWhileRevalidate:
		return p.staleWhileRevalidate(req, route.Namespace), nil
	default:
		return p.next.RoundTrip(req)
	}
}

func (p *Proxy) cacheFirst(req *http.Request, ns string) *http.Response {
	if e := p.match(req.Context(), ns, req); e != nil {
		return e.Response(req)
	}
	resp, err := p.fetch(req, ns)
	if err != nil {
		return offlineResponse(req, "")
	}
	return resp
}

func (p *Proxy) networkFirst(req *http.Request, ns string) *http.Response {
	resp, err := p.fetch(req, ns)
	if err == nil {
		return resp
	}
	p.logger().Debug().Err(err).Str("url", req.URL.String()).Msg("network failed, trying cache")

	if e := p.match(req.Context(), ns, req); e != nil {
		return e.Response(req)
	}
	if IsNavigation(req) {
		if shell := p.shell(req.Context()); shell != nil {
			return shell.Response(req)
		}
	}
	return offlineResponse(req, "Offline")
}

func (p *Proxy) staleWhileRevalidate(req *http.Request, ns string) *http.Response {
	if e := p.match(req.Context(), ns, req); e != nil {
		p.revalidate(req, ns)
		return e.Response(req)
	}

	resp, err := p.fetch(req, ns)
	if err == nil {
		return resp
	}
	if IsNavigation(req) {
		if shell := p.shell(req.Context()); shell != nil {
			return shell.Response(req)
		}
	}
	return offlineResponse(req, "Offline")
}

// revalidate refreshes the cached copy of req in the background.
func (p *Proxy) revalidate(req *http.Request, ns string) {
	if p.offline() {
		return
	}
	bg := req.Clone(p.ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		resp, err := p.fetch(bg, ns)
		if err != nil {
			p.logger().Debug().Err(err).Str("url", bg.URL.String()).Msg("background refresh failed")
			return
		}
		_ = resp.Body.Close()
	}()
}

// fetch sends req to the network and stores 2xx responses in ns. The
// returned response carries a fully buffered body.
func (p *Proxy) fetch(req *http.Request, ns string) (*http.Response, error) {
	if p.offline() {
		return nil, errOffline
	}
	resp, err := p.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) <= maxCachedBody {
		e := &Entry{
			Method:   req.Method,
			URL:      req.URL.String(),
			Status:   resp.StatusCode,
			Header:   resp.Header.Clone(),
			Body:     body,
			StoredAt: time.Now(),
		}
		if err := p.storage.Put(req.Context(), ns, e); err != nil {
			p.logger().Warn().Err(err).Str("url", e.URL).Msg("failed to cache response")
		}
	}
	return resp, nil
}

func (p *Proxy) match(ctx context.Context, ns string, req *http.Request) *Entry {
	e, found, err := p.storage.Match(ctx, ns, req.Method, req.URL.String())
	if err != nil {
		p.logger().Warn().Err(err).Str("url", req.URL.String()).Msg("cache lookup failed")
		return nil
	}
	if !found {
		return nil
	}
	return e
}

// shell returns the cached application entry point.
func (p *Proxy) shell(ctx context.Context) *Entry {
	cfg := p.cfg.Load()
	if cfg.ShellPath == "" {
		return nil
	}
	target := strings.TrimRight(cfg.Origin, "/") + cfg.ShellPath
	e, found, err := p.storage.Match(ctx, cfg.ShellNamespace(), http.MethodGet, target)
	if err != nil || !found {
		return nil
	}
	return e
}

// Wait blocks until background refreshes have finished.
func (p *Proxy) Wait() {
	p.wg.Wait()
}

// Close cancels background refreshes and waits for them.
func (p *Proxy) Close() {
	p.cancel()
	p.wg.Wait()
}

// ServeHTTP lets the proxy run as an HTTP server in front of the origin.
// Relative request URLs are resolved against the origin; absolute ones
// (forward-proxy requests) are used as they are.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	if !r.URL.IsAbs() {
		origin, err := url.Parse(p.cfg.Load().Origin)
		if err != nil {
			http.Error(w, "bad origin", http.StatusInternalServerError)
			return
		}
		out.URL.Scheme = origin.Scheme
		out.URL.Host = origin.Host
		out.Host = origin.Host
	}
	out.Header.Del("Connection")

	resp, err := p.RoundTrip(out)
	if err != nil {
		p.logger().Warn().Err(err).Str("url", out.URL.String()).Msg("upstream request failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// offlineResponse is the synthetic 503 returned when neither the network
// nor the cache can answer.
func offlineResponse(req *http.Request, body string) *http.Response {
	header := http.Header{}
	header.Set(HeaderCache, CacheOffline)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
