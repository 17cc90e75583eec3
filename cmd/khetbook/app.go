package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tikaramgahane2k4/khetbook/internal/config"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/cache"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/connectivity"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/db"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/repo"
	offsync "github.com/tikaramgahane2k4/khetbook/internal/offline/sync"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

// app bundles the components most commands need.
type app struct {
	store   *db.Store
	client  *gateway.Client
	monitor *connectivity.Monitor
	engine  *offsync.Engine
}

// openApp opens the local store and builds the gateway, the connectivity
// monitor and the sync engine. With offline set the monitor is pinned to
// offline and never probes.
func openApp(ctx context.Context, offline bool) (*app, error) {
	store, err := db.Open(ctx, cfg.Store.Path, db.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	gwConfig := gateway.DefaultConfig(cfg.API.BaseURL)
	gwConfig.Timeout = cfg.API.Timeout
	session := gateway.NewFileSession(sessionPath(cfg))
	gwConfig.Session = session
	gwConfig.OnUnauthorized = func() {
		fmt.Fprintf(os.Stderr, "%s Session expired. Run 'khetbook login --token <token>' to sign in again.\n", ui.RenderWarn("⚠"))
	}
	gwConfig.Logger = logger
	client, err := gateway.New(gwConfig)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	monitor := connectivity.New(
		connectivity.HTTPProbe(&http.Client{Timeout: cfg.Connectivity.ProbeTimeout}, cfg.API.BaseURL),
		&connectivity.Config{
			Interval:      cfg.Connectivity.Interval,
			ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
			InitialOnline: !offline,
			Logger:        logger,
		},
	)
	if offline {
		monitor.SetOnline(false)
	} else {
		monitor.Check(ctx)
	}

	signedIn := func() bool {
		_, ok := session.Token()
		return ok
	}
	engine := offsync.New(store, store, client, monitor, &offsync.Options{
		RefreshPath: cfg.Sync.RefreshPath,
		Policy:      cfg.Policy(),
		HasSession:  signedIn,
		Logger:      logger,
	})

	return &app{store: store, client: client, monitor: monitor, engine: engine}, nil
}

// Close stops background work and closes the store.
func (a *app) Close() {
	a.engine.Close()
	a.monitor.Stop()
	if err := a.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close local store")
	}
}

func (a *app) crops() *repo.Crops {
	return repo.NewCrops(a.store, a.client, a.monitor, logger)
}

func (a *app) profile() *repo.Profile {
	return repo.NewProfile(a.store, a.client, a.monitor, logger)
}

// newProxy builds the caching proxy over the app's store.
func (a *app) newProxy() (*cache.Proxy, error) {
	proxy, err := cache.New(cache.NewStorage(a.store), cacheConfig(cfg), nil)
	if err != nil {
		return nil, err
	}
	proxy.UseConnectivity(a.monitor)
	return proxy, nil
}

// cacheConfig maps the [cache] section onto the proxy configuration.
func cacheConfig(c *config.Config) *cache.Config {
	cc := cache.DefaultConfig(c.Cache.Origin)
	cc.Version = c.Cache.Version
	cc.Logger = logger
	return cc
}

// sessionPath is api.token_file, or session.json next to the database.
func sessionPath(c *config.Config) string {
	if c.API.TokenFile != "" {
		return c.API.TokenFile
	}
	return filepath.Join(filepath.Dir(c.Store.Path), "session.json")
}

// connectivityLabel renders the online state for status output.
func connectivityLabel(online bool) string {
	if online {
		return ui.RenderPass("online")
	}
	return ui.RenderWarn("offline")
}
