package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/cache"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/connectivity"
)

// fakeMonitor is a Monitor driven by the test.
type fakeMonitor struct {
	online atomic.Bool
	events chan connectivity.Transition
}

func newFakeMonitor(online bool) *fakeMonitor {
	m := &fakeMonitor{events: make(chan connectivity.Transition, 8)}
	m.online.Store(online)
	return m
}

func (m *fakeMonitor) Online() bool { return m.online.Load() }
func (m *fakeMonitor) Events() <-chan connectivity.Transition { return m.events }

func (m *fakeMonitor) set(online bool) {
	m.online.Store(online)
	m.events <- connectivity.Transition{Online: online, At: time.Now()}
}

// countingSyncer counts Trigger calls.
type countingSyncer struct{ n atomic.Int32 }

func (s *countingSyncer) Trigger() { s.n.Add(1) }

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.StabilizeDelay = 50 * time.Millisecond
	cfg.StartupDelay = 80 * time.Millisecond
	cfg.ReloadDebounce = 20 * time.Millisecond
	return cfg
}

// startDaemon runs d in the background and stops it at test end.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		monitor Monitor
		syncer  Syncer
		wantErr bool
	}{
		{"valid", newFakeMonitor(true), &countingSyncer{}, false},
		{"nil monitor", nil, &countingSyncer{}, true},
		{"nil syncer", newFakeMonitor(true), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.monitor, tt.syncer)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestReconnect_TriggersAfterStabilizeDelay tests the delayed trigger on
// coming back online
func TestReconnect_TriggersAfterStabilizeDelay(t *testing.T) {
	monitor := newFakeMonitor(false)
	syncer := &countingSyncer{}
	d, err := NewWithConfig(monitor, syncer, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	monitor.set(true)
	waitFor(t, "pending trigger", d.Pending)
	if syncer.n.Load() != 0 {
		t.Fatal("triggered before the stabilize delay")
	}
	waitFor(t, "trigger", func() bool { return syncer.n.Load() == 1 })
}

// TestReconnect_OfflineCancelsPending tests that a flap does not sync
func TestReconnect_OfflineCancelsPending(t *testing.T) {
	monitor := newFakeMonitor(false)
	syncer := &countingSyncer{}
	d, err := NewWithConfig(monitor, syncer, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	monitor.set(true)
	waitFor(t, "pending trigger", d.Pending)
	monitor.set(false)
	waitFor(t, "cancelled trigger", func() bool { return !d.Pending() })

	time.Sleep(150 * time.Millisecond)
	if n := syncer.n.Load(); n != 0 {
		t.Errorf("Trigger() called %d times after going offline", n)
	}
}

// TestReconnect_NewTransitionResetsTimer tests that repeated transitions
// yield a single trigger
func TestReconnect_NewTransitionResetsTimer(t *testing.T) {
	monitor := newFakeMonitor(false)
	syncer := &countingSyncer{}
	d, err := NewWithConfig(monitor, syncer, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	monitor.set(true)
	monitor.events <- connectivity.Transition{Online: true, At: time.Now()}
	monitor.events <- connectivity.Transition{Online: true, At: time.Now()}

	waitFor(t, "trigger", func() bool { return syncer.n.Load() >= 1 })
	time.Sleep(150 * time.Millisecond)
	if n := syncer.n.Load(); n != 1 {
		t.Errorf("Trigger() called %d times, want 1", n)
	}
}

// TestStart_OnlineTriggersAfterStartupDelay tests the startup pass
func TestStart_OnlineTriggersAfterStartupDelay(t *testing.T) {
	syncer := &countingSyncer{}
	d, err := NewWithConfig(newFakeMonitor(true), syncer, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "startup trigger", func() bool { return syncer.n.Load() == 1 })
}

// TestStart_OfflineDoesNotTrigger tests that starting offline waits for a
// transition
func TestStart_OfflineDoesNotTrigger(t *testing.T) {
	syncer := &countingSyncer{}
	d, err := NewWithConfig(newFakeMonitor(false), syncer, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	time.Sleep(200 * time.Millisecond)
	if n := syncer.n.Load(); n != 0 {
		t.Errorf("Trigger() called %d times while offline", n)
	}
}

// TestRetryInterval tests periodic passes while online
func TestRetryInterval(t *testing.T) {
	cfg := testConfig()
	cfg.StartupDelay = time.Hour
	cfg.RetryInterval = 20 * time.Millisecond

	syncer := &countingSyncer{}
	d, err := NewWithConfig(newFakeMonitor(true), syncer, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "retries", func() bool { return syncer.n.Load() >= 3 })
}

// TestStop_Idempotent tests repeated Stop calls
func TestStop_Idempotent(t *testing.T) {
	d, err := New(newFakeMonitor(true), &countingSyncer{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	if d.Pending() {
		t.Error("trigger pending after Stop")
	}
}

// fakeProxy records installs.
type fakeProxy struct {
	mu       sync.Mutex
	cfg      *cache.Config
	installs []string
	failNext bool
}

func (p *fakeProxy) Config() *cache.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *fakeProxy) Reconfigure(cfg *cache.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	return nil
}

func (p *fakeProxy) Install(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return fmt.Errorf("origin unreachable")
	}
	p.installs = append(p.installs, p.cfg.Version)
	return nil
}

func (p *fakeProxy) installed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.installs...)
}

// versionFileLoader reads a cache version from a one-line file.
func versionFileLoader(path string) CacheLoader {
	return func() (*cache.Config, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cfg := cache.DefaultConfig("http://localhost:5173")
		cfg.Version = strings.TrimSpace(string(data))
		return cfg, nil
	}
}

// TestReloadCache tests that only version changes reinstall and a failed
// install restores the previous config
func TestReloadCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache-version")
	if err := os.WriteFile(path, []byte("v3"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	proxy := &fakeProxy{cfg: cache.DefaultConfig("http://localhost:5173")}
	d, err := New(newFakeMonitor(false), &countingSyncer{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.WatchCache(proxy, path, versionFileLoader(path)); err != nil {
		t.Fatalf("WatchCache() failed: %v", err)
	}
	defer d.Stop()
	ctx := context.Background()

	if err := d.reloadCache(ctx); err != nil {
		t.Fatalf("reloadCache() failed: %v", err)
	}
	if got := proxy.installed(); len(got) != 0 {
		t.Errorf("same version reinstalled: %v", got)
	}

	if err := os.WriteFile(path, []byte("v4"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := d.reloadCache(ctx); err != nil {
		t.Fatalf("reloadCache() failed: %v", err)
	}
	if got := proxy.installed(); len(got) != 1 || got[0] != "v4" {
		t.Errorf("installs = %v, want [v4]", got)
	}

	proxy.failNext = true
	if err := os.WriteFile(path, []byte("v5"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := d.reloadCache(ctx); err == nil {
		t.Fatal("reloadCache() succeeded with a failing install")
	}
	if v := proxy.Config().Version; v != "v4" {
		t.Errorf("version after failed install = %s, want v4", v)
	}
}

// TestWatchCache_FileChangeReinstalls tests the fsnotify path end to end
func TestWatchCache_FileChangeReinstalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache-version")
	if err := os.WriteFile(path, []byte("v3"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	proxy := &fakeProxy{cfg: cache.DefaultConfig("http://localhost:5173")}
	d, err := NewWithConfig(newFakeMonitor(false), &countingSyncer{}, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if err := d.WatchCache(proxy, path, versionFileLoader(path)); err != nil {
		t.Fatalf("WatchCache() failed: %v", err)
	}
	startDaemon(t, d)

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v9"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	waitFor(t, "reinstall", func() bool {
		got := proxy.installed()
		return len(got) == 1 && got[0] == "v9"
	})
}
