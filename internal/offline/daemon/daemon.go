// Package daemon decides when the sync engine runs.
//
// The daemon:
//  1. Triggers a sync pass shortly after the client comes back online
//  2. Triggers a pass after startup when already online
//  3. Optionally retries on a fixed interval
//  4. Reinstalls the asset cache when the config file changes its version
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/cache"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/connectivity"
)

// Config holds configuration for the daemon.
type Config struct {
	// StabilizeDelay is how long the link must stay up after coming online
	// before a pass starts.
	StabilizeDelay time.Duration

	// StartupDelay is the wait before the first pass when starting online.
	StartupDelay time.Duration

	// RetryInterval triggers a pass periodically while online. Zero disables it.
	RetryInterval time.Duration

	// ReloadDebounce batches rapid config file writes.
	ReloadDebounce time.Duration

	// Logger for daemon activity
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StabilizeDelay: 1500 * time.Millisecond,
		StartupDelay:   3 * time.Second,
		ReloadDebounce: 200 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}
}

// Monitor reports connectivity and its transitions.
type Monitor interface {
	Online() bool
	Events() <-chan connectivity.Transition
}

// Syncer starts a background sync pass unless one is running.
type Syncer interface {
	Trigger()
}

// CacheInstaller is the part of the asset cache the daemon drives.
type CacheInstaller interface {
	Config() *cache.Config
	Reconfigure(cfg *cache.Config) error
	Install(ctx context.Context) error
}

// CacheLoader reads the current cache configuration from disk.
type CacheLoader func() (*cache.Config, error)

// Daemon connects connectivity changes to the sync engine.
type Daemon struct {
	monitor Monitor
	syncer  Syncer
	config  *Config
	logger  zerolog.Logger

	timerMu sync.Mutex
	pending *time.Timer

	proxy    CacheInstaller
	loadConf CacheLoader
	watcher  *FileWatcher
	confPath string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
}

// New creates a daemon with default configuration.
func New(monitor Monitor, syncer Syncer) (*Daemon, error) {
	return NewWithConfig(monitor, syncer, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(monitor Monitor, syncer Syncer, config *Config) (*Daemon, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		monitor: monitor,
		syncer:  syncer,
		config:  config,
		logger:  config.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// WatchCache makes the daemon reinstall proxy whenever the file at path
// changes the cache version. Call before Start.
func (d *Daemon) WatchCache(proxy CacheInstaller, path string, load CacheLoader) error {
	if proxy == nil || load == nil {
		return fmt.Errorf("proxy and loader are required")
	}
	watcher, err := NewFileWatcher()
	if err != nil {
		return err
	}
	d.proxy = proxy
	d.loadConf = load
	d.watcher = watcher
	d.confPath = path
	return nil
}

// Start runs the daemon. It blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info().Bool("online", d.monitor.Online()).Msg("starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(d.confPath); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		d.wg.Add(1)
		go d.watchConfig()
	}

	if d.monitor.Online() {
		d.schedule(d.config.StartupDelay, "startup")
	}

	d.wg.Add(1)
	go d.watchConnectivity()

	if d.config.RetryInterval > 0 {
		d.wg.Add(1)
		go d.retryLoop()
	}

	select {
	case <-ctx.Done():
		d.logger.Info().Msg("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop cancels pending triggers and waits for the daemon's goroutines.
func (d *Daemon) Stop() error {
	var err error
	d.stopped.Do(func() {
		d.logger.Info().Msg("stopping daemon")
		d.cancel()
		d.cancelPending()

		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				err = werr
				d.logger.Warn().Err(werr).Msg("error closing config watcher")
			}
		}

		d.wg.Wait()
		d.logger.Info().Msg("daemon stopped")
	})
	return err
}

// Pending reports whether a trigger is scheduled.
func (d *Daemon) Pending() bool {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	return d.pending != nil
}

func (d *Daemon) watchConnectivity() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-d.monitor.Events():
			if t.Online {
				d.schedule(d.config.StabilizeDelay, "back online")
			} else {
				d.cancelPending()
			}
		}
	}
}

// schedule replaces any pending trigger with one firing after delay.
func (d *Daemon) schedule(delay time.Duration, reason string) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if d.ctx.Err() != nil {
		return
	}
	if d.pending != nil {
		d.pending.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.timerMu.Lock()
		if d.pending != t {
			d.timerMu.Unlock()
			return
		}
		d.pending = nil
		d.timerMu.Unlock()
		d.fire(reason)
	})
	d.pending = t
	d.logger.Debug().Dur("delay", delay).Str("reason", reason).Msg("sync scheduled")
}

func (d *Daemon) cancelPending() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

func (d *Daemon) fire(reason string) {
	if d.ctx.Err() != nil || !d.monitor.Online() {
		return
	}
	d.logger.Info().Str("reason", reason).Msg("triggering sync")
	d.syncer.Trigger()
}

func (d *Daemon) retryLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.fire("retry")
		}
	}
}

func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	var debounce <-chan time.Time
	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if ev.Op != OpWrite {
				continue
			}
			debounce = time.After(d.config.ReloadDebounce)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn().Err(err).Msg("config watcher error")

		case <-debounce:
			debounce = nil
			if err := d.reloadCache(d.ctx); err != nil {
				d.logger.Error().Err(err).Msg("failed to reload cache config")
			}
		}
	}
}

// reloadCache reinstalls the cache when the configured version changed.
// Other changes are applied without refetching.
func (d *Daemon) reloadCache(ctx context.Context) error {
	next, err := d.loadConf()
	if err != nil {
		return err
	}
	prev := d.proxy.Config()
	if err := d.proxy.Reconfigure(next); err != nil {
		return err
	}
	if prev != nil && prev.Version == next.Version && prev.Prefix == next.Prefix {
		d.logger.Debug().Msg("cache config reloaded")
		return nil
	}

	d.logger.Info().Str("version", next.Version).Msg("cache version changed, reinstalling")
	if err := d.proxy.Install(ctx); err != nil {
		// Keep serving the previous version's entries.
		if prev != nil {
			if rerr := d.proxy.Reconfigure(prev); rerr != nil {
				d.logger.Warn().Err(rerr).Msg("failed to restore previous cache config")
			}
		}
		return fmt.Errorf("failed to install cache %s: %w", next.Version, err)
	}
	return nil
}
