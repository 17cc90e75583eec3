package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// DefaultRefreshPath is fetched after every pass to rebuild the snapshot.
const DefaultRefreshPath = "/crops"

// Options configures an Engine.
type Options struct {
	// RefreshPath is fetched after a pass and written with PutAll. Empty
	// disables the refresh.
	RefreshPath string

	// Policy for non-2xx responses (default: DropAll).
	Policy RejectionPolicy

	// HasSession reports whether credentials are available. When it
	// returns false the refresh is skipped. Nil means always.
	HasSession func() bool

	// Logger for engine activity
	Logger zerolog.Logger
}

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return &Options{
		RefreshPath: DefaultRefreshPath,
		Policy:      DropAll,
		Logger:      zerolog.Nop(),
	}
}

// Result summarizes one call to SyncNow.
type Result struct {
	// Skipped is set when the call did nothing because a pass was already
	// running or the client was offline.
	Skipped bool

	Total     int
	Done      int
	Remaining int
	Rejected  int

	// Aborted is set when the pass stopped before the end of its snapshot.
	Aborted bool
}

// Engine drains the mutation queue. It is safe for concurrent use; at most
// one pass runs at a time.
type Engine struct {
	queue    Queue
	snapshot Snapshot
	gateway  Gateway
	online   Connectivity
	opts     *Options
	logger   zerolog.Logger

	broker  *Broker
	syncing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates an Engine. snapshot may be nil, which disables the refresh.
// A nil opts uses DefaultOptions.
func New(queue Queue, snapshot Snapshot, gw Gateway, online Connectivity, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queue:    queue,
		snapshot: snapshot,
		gateway:  gw,
		online:   online,
		opts:     opts,
		logger:   opts.Logger,
		broker:   NewBroker(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers fn for progress updates and returns its disposer.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	return e.broker.Subscribe(fn)
}

// State returns the last published progress snapshot.
func (e *Engine) State() State {
	return e.broker.Last()
}

// Syncing reports whether a pass is in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// Trigger starts a pass in the background unless one is already running.
func (e *Engine) Trigger() {
	if e.syncing.Load() || e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.SyncNow(e.ctx); err != nil {
			e.logger.Error().Err(err).Msg("background sync failed")
		}
	}()
}

// Close cancels background passes and waits for them to return.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until background passes started by Trigger have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SyncNow runs one pass over the queue snapshot and returns when it is
// done. It returns immediately with Result.Skipped when offline or when
// another pass is in flight.
//
// Items are replayed strictly in qid order, one at a time. Connectivity is
// checked before each item. A received response dequeues the item (subject
// to Policy); a network failure or a failed dequeue ends the pass and
// leaves the item queued. Once a queued create is accepted, later writes
// to its temp id are sent to the server's id; a write whose temp id is
// still unresolved is never sent and ends the pass.
//
// After the pass the snapshot is refreshed from RefreshPath when online.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	if !e.online.Online() {
		return Result{Skipped: true}, nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return Result{Skipped: true}, nil
	}
	defer e.syncing.Store(false)

	items, err := e.queue.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read mutation queue: %w", err)
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	res := Result{Total: len(items)}
	e.logger.Info().Int("pending", res.Total).Msg("sync started")
	e.broker.Publish(State{Syncing: true, Total: res.Total, Remaining: res.Total})

	// dropped holds writes removed ahead of their turn because the create
	// they depend on was rejected.
	dropped := make(map[int64]bool)

	for i, m := range items {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		if !e.online.Online() {
			e.logger.Info().Int64("qid", m.QID).Msg("went offline, pausing sync")
			res.Aborted = true
			break
		}

		if dropped[m.QID] {
			res.Done++
			res.Rejected++
			e.broker.Publish(State{Syncing: true, Total: res.Total, Done: res.Done, Remaining: res.Total - res.Done})
			continue
		}
		if ref, ok := m.TempRef(); ok {
			e.logger.Error().Int64("qid", m.QID).Str("label", m.Label).Str("temp_id", ref).
				Msg("mutation addresses a record the server has not created, stopping sync")
			res.Aborted = true
			break
		}

		resp, stop := e.replay(ctx, m, &res)
		if stop {
			res.Aborted = true
			break
		}
		if tempID, ok := m.CreatesTemp(); ok {
			if !e.settleTemp(ctx, tempID, resp, items[i+1:], dropped) {
				res.Aborted = true
				break
			}
		}
		if err := e.queue.Dequeue(ctx, m.QID); err != nil {
			// Going on would replay later items ahead of this one.
			e.logger.Error().Err(err).Int64("qid", m.QID).Msg("failed to dequeue mutation, stopping sync")
			res.Aborted = true
			break
		}

		res.Done++
		e.broker.Publish(State{Syncing: true, Total: res.Total, Done: res.Done, Remaining: res.Total - res.Done})
	}

	if e.online.Online() {
		e.refresh(ctx)
	}

	res.Remaining = res.Total - res.Done
	if n, err := e.queue.Len(ctx); err != nil {
		e.logger.Error().Err(err).Msg("failed to count remaining mutations")
	} else {
		res.Remaining = n
	}

	e.logger.Info().
		Int("total", res.Total).
		Int("done", res.Done).
		Int("remaining", res.Remaining).
		Int("rejected", res.Rejected).
		Bool("aborted", res.Aborted).
		Msg("sync finished")
	e.broker.Publish(State{Syncing: false, Total: res.Total, Done: res.Done, Remaining: res.Remaining})
	return res, nil
}

// replay sends one mutation and returns the response. stop ends the pass
// and leaves the item queued.
func (e *Engine) replay(ctx context.Context, m *schema.Mutation, res *Result) (resp *gateway.Response, stop bool) {
	logger := e.logger.With().Int64("qid", m.QID).Str("label", m.Label).Logger()

	resp, err := e.gateway.Do(ctx, gateway.Request{
		Method: m.Method,
		Path:   m.Path,
		Body:   m.Payload,
	})
	if err != nil {
		var netErr *gateway.NetworkError
		if errors.As(err, &netErr) {
			logger.Warn().Err(err).Msg("network error, stopping sync")
		} else {
			logger.Error().Err(err).Msg("request failed, stopping sync")
		}
		return nil, true
	}

	if resp.OK() {
		logger.Debug().Int("status", resp.Status).Msg("mutation synced")
		return resp, false
	}

	if e.opts.Policy == RetryServerErrors && resp.Status >= http.StatusInternalServerError {
		logger.Warn().Int("status", resp.Status).Msg("server error, keeping mutation for retry")
		return nil, true
	}

	res.Rejected++
	logger.Warn().
		Int("status", resp.Status).
		Str("method", m.Method).
		Str("path", m.Path).
		Msg("mutation rejected by server, dropping")
	return resp, false
}

// settleTemp runs after the create that introduced tempID got a response.
// Accepted, every later write to tempID is pointed at the server's id, in
// the queue and in rest. Rejected, those writes can never succeed and are
// removed from the queue and marked in dropped. It returns false when the
// queue could not be updated and the pass must stop before the create is
// dequeued.
func (e *Engine) settleTemp(ctx context.Context, tempID string, resp *gateway.Response, rest []*schema.Mutation, dropped map[int64]bool) bool {
	logger := e.logger.With().Str("temp_id", tempID).Logger()

	if !resp.OK() {
		for _, later := range rest {
			if !later.References(tempID) {
				continue
			}
			if err := e.queue.Dequeue(ctx, later.QID); err != nil {
				logger.Error().Err(err).Int64("qid", later.QID).Msg("failed to drop write to rejected crop")
				continue
			}
			dropped[later.QID] = true
			logger.Warn().Int64("qid", later.QID).Str("label", later.Label).Msg("dropping write to rejected crop")
		}
		return true
	}

	serverID := createdID(resp)
	if serverID == "" {
		logger.Warn().Msg("create response carried no id; writes to this crop stay queued")
		return true
	}
	n, err := e.queue.ResolveTempID(ctx, tempID, serverID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to rewrite queued writes, stopping sync")
		return false
	}
	for _, later := range rest {
		later.ResolveID(tempID, serverID)
	}
	if n > 0 {
		logger.Info().Str("id", serverID).Int("rewritten", n).Msg("queued writes now address the created crop")
	}
	return true
}

// createdID extracts the record id from a create response envelope.
func createdID(resp *gateway.Response) string {
	env, err := resp.Envelope()
	if err != nil || len(env.Data) == 0 {
		return ""
	}
	rec, err := schema.DecodeRecord(env.Data)
	if err != nil {
		return ""
	}
	return rec.ID
}

// refresh rebuilds the local snapshot from the server. Failures are logged
// only; the queued work is already done.
func (e *Engine) refresh(ctx context.Context) {
	if e.snapshot == nil || e.opts.RefreshPath == "" {
		return
	}
	if e.opts.HasSession != nil && !e.opts.HasSession() {
		e.logger.Debug().Msg("no session, skipping snapshot refresh")
		return
	}
	logger := e.logger.With().Str("path", e.opts.RefreshPath).Logger()

	resp, err := e.gateway.Do(ctx, gateway.Request{Method: http.MethodGet, Path: e.opts.RefreshPath})
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot refresh failed")
		return
	}
	if !resp.OK() {
		logger.Warn().Int("status", resp.Status).Msg("snapshot refresh rejected")
		return
	}

	env, err := resp.Envelope()
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot refresh returned an unreadable body")
		return
	}
	if !env.Success {
		logger.Warn().Str("message", env.Message).Msg("snapshot refresh unsuccessful")
		return
	}

	records, err := schema.DecodeRecords(env.Data)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot refresh returned invalid records")
		return
	}
	if err := e.snapshot.PutAll(ctx, records); err != nil {
		logger.Error().Err(err).Msg("failed to store refreshed snapshot")
		return
	}
	logger.Debug().Int("records", len(records)).Msg("snapshot refreshed")
}
