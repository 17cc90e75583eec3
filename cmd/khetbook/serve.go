package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/tikaramgahane2k4/khetbook/internal/config"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/cache"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/connectivity"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/daemon"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/dashboard"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

// serveOptions selects what runDaemon starts next to the sync daemon.
type serveOptions struct {
	proxy     bool
	dashboard bool
	port      int
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Sync automatically whenever the API is reachable (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon probes the API and replays the queue:
  1. Shortly after start, if the API is reachable
  2. After the link has been back up for a moment following an outage
  3. Periodically, when sync.retry_interval is set

With --proxy it also serves the app through the offline cache on
cache.listen, and reinstalls the cache when cache.version changes in the
config file. With --dashboard it serves live status on dashboard.port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := serveOptions{port: cfg.Dashboard.Port}
		opts.proxy, _ = cmd.Flags().GetBool("proxy")
		opts.dashboard, _ = cmd.Flags().GetBool("dashboard")
		return runDaemon(cmd.Context(), opts)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync daemon with the real-time WebSocket dashboard",
	Long: `Start the sync daemon together with a WebSocket dashboard server.

WebSocket messages include:
- status: snapshot sent when a client connects
- sync_progress: a queued write was replayed (done/total)
- sync_complete: a pass ended; success when nothing is left in the queue
- connectivity: online flag and number of pending writes

Example usage:
  khetbook dashboard                   # Start on dashboard.port (8080)
  khetbook dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}
		return runDaemon(cmd.Context(), serveOptions{dashboard: true, port: port})
	},
}

var proxyCmd = &cobra.Command{
	Use:     "proxy",
	GroupID: "advanced",
	Short:   "Serve the app through the offline cache",
	Long: `Serve the app origin through the offline cache on cache.listen.

Static assets are served from the cache first, API reads fall back to the
last cached response when the network fails, and navigations get the cached
app shell while offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		a.monitor.Start(ctx)

		proxy, err := a.newProxy()
		if err != nil {
			return err
		}
		defer proxy.Close()
		installProxy(ctx, proxy)

		srv := newProxyServer(proxy)
		fmt.Printf("%s Serving %s on http://%s\n", ui.RenderAccent("🚀"), proxy.Config().Origin, cfg.Cache.Listen)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")
		return serveUntilDone(ctx, srv)
	},
}

// installProxy precaches the app shell. A failed install leaves the proxy
// passing requests through; the next successful reinstall activates it.
func installProxy(ctx context.Context, proxy *cache.Proxy) {
	if err := proxy.Install(ctx); err != nil {
		logger.Warn().Err(err).Msg("cache install failed, serving without cache")
		fmt.Fprintf(os.Stderr, "%s Cache install failed: %v\n", ui.RenderWarn("⚠"), err)
	}
}

func newProxyServer(proxy *cache.Proxy) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/*", proxy)

	return &http.Server{
		Addr:              cfg.Cache.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runDaemon starts the monitor, the engine and the daemon, plus the proxy
// and dashboard when asked, and blocks until interrupted.
func runDaemon(parent context.Context, opts serveOptions) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	// The dashboard consumes monitor transitions too, so each side gets
	// its own copy of the stream.
	var monitor daemon.Monitor = a.monitor
	var dashEvents <-chan connectivity.Transition
	if opts.dashboard {
		daemonEvents, dashboardEvents := fanOut(ctx, a.monitor.Events())
		monitor = monitorView{Monitor: a.monitor, events: daemonEvents}
		dashEvents = dashboardEvents
	}

	d, err := daemon.NewWithConfig(monitor, a.engine, &daemon.Config{
		StabilizeDelay: cfg.Sync.StabilizeDelay,
		StartupDelay:   cfg.Sync.StartupDelay,
		RetryInterval:  cfg.Sync.RetryInterval,
		ReloadDebounce: daemon.DefaultConfig().ReloadDebounce,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	fmt.Printf("%s Starting khetbook daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   API: %s (%s)\n", cfg.API.BaseURL, connectivityLabel(a.monitor.Online()))
	fmt.Printf("   Store: %s\n", cfg.Store.Path)

	var proxySrv *http.Server
	if opts.proxy {
		proxy, err := a.newProxy()
		if err != nil {
			return err
		}
		defer proxy.Close()
		installProxy(ctx, proxy)

		if file := loader.File(); file != "" {
			if err := d.WatchCache(proxy, file, cacheLoader(file)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", file, err)
			}
			fmt.Printf("   Watching: %s\n", file)
		}
		proxySrv = newProxyServer(proxy)
		fmt.Printf("   Proxy: http://%s\n", cfg.Cache.Listen)
	}

	if opts.dashboard {
		server := dashboard.NewServer(&dashboard.Config{Port: opts.port, Logger: logger})
		handler := dashboard.NewHandler(server, a.store.Len, a.monitor.Online(), logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn().Err(err).Msg("dashboard shutdown failed")
			}
		}()
		go handler.Watch(ctx, a.engine, dashEvents)

		fmt.Printf("   Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", opts.port, opts.port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	a.monitor.Start(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- d.Start(ctx) }()
	if proxySrv != nil {
		go func() { errCh <- serveUntilDone(ctx, proxySrv) }()
	}

	err = <-errCh
	cancel()
	_ = d.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon stopped with error: %w", err)
	}
	fmt.Println("\nDaemon stopped")
	return nil
}

// monitorView replaces the transition stream of a monitor.
type monitorView struct {
	*connectivity.Monitor
	events <-chan connectivity.Transition
}

func (m monitorView) Events() <-chan connectivity.Transition { return m.events }

// fanOut copies every transition from in to two channels until ctx is done.
func fanOut(ctx context.Context, in <-chan connectivity.Transition) (<-chan connectivity.Transition, <-chan connectivity.Transition) {
	a := make(chan connectivity.Transition, 16)
	b := make(chan connectivity.Transition, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-in:
				for _, out := range []chan connectivity.Transition{a, b} {
					select {
					case out <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return a, b
}

// cacheLoader rereads the cache section of the config file at path.
func cacheLoader(path string) daemon.CacheLoader {
	return func() (*cache.Config, error) {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return cacheConfig(c), nil
	}
}

func init() {
	daemonCmd.Flags().Bool("proxy", false, "Also serve the app through the offline cache")
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the WebSocket dashboard")
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(proxyCmd)
}
