// Package connectivity tracks whether the remote API is reachable.
//
// A Monitor probes the API on a fixed interval and keeps the result in an
// atomic flag, so Online() can be read from any goroutine on every replay
// step. Transitions (and only transitions) are published on Events().
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Transition is one change of the online flag.
type Transition struct {
	Online bool
	At     time.Time
}

// ProbeFunc reports whether the remote side is reachable.
type ProbeFunc func(ctx context.Context) bool

// Config holds configuration for the monitor.
type Config struct {
	// Interval between probes (default: 5s)
	Interval time.Duration

	// ProbeTimeout bounds a single probe (default: 3s)
	ProbeTimeout time.Duration

	// InitialOnline is the state reported before the first probe completes
	InitialOnline bool

	// Logger for monitor activity
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:      5 * time.Second,
		ProbeTimeout:  3 * time.Second,
		InitialOnline: true,
		Logger:        zerolog.Nop(),
	}
}

// Monitor holds the current online state.
type Monitor struct {
	config *Config
	probe  ProbeFunc

	online atomic.Bool
	// forced disables probing; set by SetOnline.
	forced atomic.Bool

	mu     sync.Mutex
	events chan Transition

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor that decides reachability with probe. A nil probe
// yields a monitor driven only by SetOnline.
func New(probe ProbeFunc, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		config: config,
		probe:  probe,
		events: make(chan Transition, 16),
		ctx:    ctx,
		cancel: cancel,
	}
	m.online.Store(config.InitialOnline)
	return m
}

// HTTPProbe returns a probe that sends HEAD <baseURL>/health and treats any
// HTTP response as reachable. Only transport failures count as offline.
func HTTPProbe(client *http.Client, baseURL string) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	target := strings.TrimRight(baseURL, "/") + "/health"
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Start runs the probe loop until Stop is called or ctx is done. It
// probes once immediately.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop ends the probe loop and waits for it.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe and records the result. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.probe == nil || m.forced.Load() {
		return m.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	online := m.probe(probeCtx)
	m.set(online)
	return online
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline forces the state and stops probes from overriding it.
func (m *Monitor) SetOnline(online bool) {
	m.forced.Store(true)
	m.set(online)
}

// Release lets probes drive the state again after SetOnline.
func (m *Monitor) Release() {
	m.forced.Store(false)
}

// Events delivers transitions. The channel is buffered; if the consumer
// falls behind, the oldest pending transition is dropped.
func (m *Monitor) Events() <-chan Transition {
	return m.events
}

// set records the state. The swap and the publish share one critical
// section so events arrive in the order the state changed.
func (m *Monitor) set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online.Swap(online) == online {
		return
	}

	t := Transition{Online: online, At: time.Now()}
	m.config.Logger.Info().Bool("online", online).Msg("connectivity changed")

	select {
	case m.events <- t:
	default:
		select {
		case <-m.events:
		default:
		}
		m.events <- t
	}
}

// String is used in status output.
func (t Transition) String() string {
	state := "offline"
	if t.Online {
		state = "online"
	}
	return fmt.Sprintf("%s at %s", state, t.At.Format(time.RFC3339))
}
