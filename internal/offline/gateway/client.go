// Package gateway is the HTTP client for the khetbook API.
//
// Every call yields exactly one of two outcomes: a *Response for any HTTP
// response that arrived (2xx or not), or a *NetworkError when nothing came
// back. Callers decide what a rejection means; the gateway only attaches
// the bearer credential and reports 401s to the session.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds each request so a slow mobile link cannot hang a
// sync pass forever.
const DefaultTimeout = 12 * time.Second

// maxBody caps how much of a response body is read into memory.
const maxBody = 16 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://kisan-sathi-app.vercel.app/api.
	BaseURL string

	// Timeout per request (default: 12s).
	Timeout time.Duration

	// Session supplies the bearer token. Nil sends unauthenticated requests.
	Session SessionStore

	// OnUnauthorized runs after a 401 invalidated the session.
	OnUnauthorized func()

	// Transport overrides the HTTP transport (default: http.DefaultTransport).
	Transport http.RoundTripper

	// Logger for request diagnostics (default: no-op).
	Logger zerolog.Logger
}

// DefaultConfig returns the default client configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: DefaultTimeout,
		Logger:  zerolog.Nop(),
	}
}

// Client calls the remote API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	session        SessionStore
	onUnauthorized func()
	logger         zerolog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base URL must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		session:        cfg.Session,
		onUnauthorized: cfg.OnUnauthorized,
		logger:         cfg.Logger,
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL resolves an API path against the base URL.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Do sends req and returns the response, or a *NetworkError if none was
// received. It never returns both.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	correlationID := uuid.New().String()
	target := c.URL(req.Path)

	logger := c.logger.With().
		Str("method", req.Method).
		Str("url", target).
		Str("correlationId", correlationID).
		Logger()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Correlation-ID", correlationID)
	if c.session != nil {
		if token, ok := c.session.Token(); ok {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		logger.Debug().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		// Headers arrived, so the server did respond.
		logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("failed to read response body")
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("HTTP request completed")

	if resp.StatusCode == http.StatusUnauthorized {
		logger.Warn().Msg("401 Unauthorized - invalidating session")
		if c.session != nil {
			c.session.Invalidate()
		}
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
	}, nil
}

// Get is shorthand for a GET of path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}
