package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestCheck_PublishesTransitionsOnly tests that unchanged probes emit nothing
func TestCheck_PublishesTransitionsOnly(t *testing.T) {
	var up atomic.Bool
	up.Store(true)

	m := New(func(ctx context.Context) bool { return up.Load() }, DefaultConfig())
	ctx := context.Background()

	// Initial state is online; an online probe is not a transition.
	m.Check(ctx)
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}

	up.Store(false)
	if m.Check(ctx) {
		t.Error("Check() = true, want false")
	}
	up.Store(true)
	m.Check(ctx)
	m.Check(ctx)

	want := []bool{false, true}
	for i, w := range want {
		select {
		case ev := <-m.Events():
			if ev.Online != w {
				t.Errorf("event %d Online = %v, want %v", i, ev.Online, w)
			}
		default:
			t.Fatalf("missing event %d", i)
		}
	}
	select {
	case ev := <-m.Events():
		t.Errorf("unexpected extra event %v", ev)
	default:
	}
}

// TestSetOnline_OverridesProbe tests forcing a state
func TestSetOnline_OverridesProbe(t *testing.T) {
	m := New(func(ctx context.Context) bool { return true }, DefaultConfig())

	m.SetOnline(false)
	if m.Check(context.Background()) {
		t.Error("Check() = true while forced offline")
	}
	if m.Online() {
		t.Error("Online() = true while forced offline")
	}

	m.Release()
	if !m.Check(context.Background()) {
		t.Error("Check() = false after Release()")
	}
}

// TestHTTPProbe tests reachability against a live and a closed server
func TestHTTPProbe(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))

	probe := HTTPProbe(srv.Client(), srv.URL+"/api/")
	if !probe(context.Background()) {
		t.Error("probe() = false for a responding server")
	}
	if path := <-paths; path != "/api/health" {
		t.Errorf("probe path = %q, want /api/health", path)
	}

	srv.Close()
	if probe(context.Background()) {
		t.Error("probe() = true for a closed server")
	}
}

// TestStart_ProbesImmediately tests that the loop probes before the first tick
func TestStart_ProbesImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour

	m := New(func(ctx context.Context) bool { return false }, cfg)
	m.Start(context.Background())
	defer m.Stop()

	select {
	case ev := <-m.Events():
		if ev.Online {
			t.Errorf("event Online = true, want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition after Start()")
	}
}

// TestSetOnline_LastEventMatchesState tests that concurrent state changes
// publish their events in the order the state changed
func TestSetOnline_LastEventMatchesState(t *testing.T) {
	for round := 0; round < 20; round++ {
		m := New(nil, DefaultConfig())

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(online bool) {
				defer wg.Done()
				m.SetOnline(online)
			}(i%2 == 0)
		}
		wg.Wait()

		var last *Transition
	drain:
		for {
			select {
			case ev := <-m.Events():
				last = &ev
			default:
				break drain
			}
		}

		if last == nil {
			continue
		}
		if last.Online != m.Online() {
			t.Fatalf("round %d: last event online=%v, Online() = %v", round, last.Online, m.Online())
		}
	}
}
