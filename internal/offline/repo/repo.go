// Package repo is the optimistic write path used by every client surface.
//
// Online, calls go straight to the API and the response is mirrored into
// the local store. Offline (or when the network fails under an online
// flag), writes are applied to the local store at once and appended to
// the mutation queue; the caller gets a result marked Queued and the sync
// engine replays the write later.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

var (
	// ErrOffline is returned by reads that need the network and have no
	// local copy to fall back on.
	ErrOffline = errors.New("offline")

	// ErrNotAvailableOffline is returned when a record is requested
	// offline and the local store does not hold it.
	ErrNotAvailableOffline = errors.New("not available offline")
)

// Store is the local persistence the write path needs.
type Store interface {
	GetAll(ctx context.Context) ([]*schema.Record, error)
	GetByID(ctx context.Context, id string) (*schema.Record, bool, error)
	Put(ctx context.Context, rec *schema.Record) error
	PutAll(ctx context.Context, records []*schema.Record) error
	Remove(ctx context.Context, id string) error
	KVSet(ctx context.Context, key string, value any) error
	KVGet(ctx context.Context, key string, dst any) (bool, error)
	Enqueue(ctx context.Context, m *schema.Mutation) (int64, error)
}

// API sends requests to the remote API.
type API interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Connectivity reports whether the remote API is believed reachable.
type Connectivity interface {
	Online() bool
}

// Result is the outcome of a repository call.
type Result struct {
	Record  *schema.Record
	Records []*schema.Record

	// Offline is set when the data came from the local store.
	Offline bool
	// Queued is set when a write was stored for later replay.
	Queued bool
}

// base holds what every repository shares.
type base struct {
	store  Store
	api    API
	online Connectivity
	logger zerolog.Logger
	now    func() time.Time
}

// call sends a request and decodes the envelope. A *gateway.NetworkError is
// returned as is so callers can fall back to the offline path; non-2xx
// responses become a *gateway.RejectionError.
func (b *base) call(ctx context.Context, method, path string, body any) (*gateway.Envelope, error) {
	req := gateway.Request{Method: method, Path: path}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.Body = raw
	}

	resp, err := b.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if method == http.MethodDelete && len(resp.Body) == 0 {
		return &gateway.Envelope{Success: true}, nil
	}
	return resp.Envelope()
}

// enqueue appends a write to the mutation queue.
func (b *base) enqueue(ctx context.Context, method, path string, payload any, label string, effect *schema.LocalEffect) error {
	m, err := schema.NewMutation(method, path, payload, label, effect)
	if err != nil {
		return fmt.Errorf("failed to build mutation: %w", err)
	}
	m.InsertedAt = b.now()
	qid, err := b.store.Enqueue(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to queue %s: %w", label, err)
	}
	b.logger.Info().Int64("qid", qid).Str("label", label).Msg("write queued for sync")
	return nil
}

// mirror stores rec locally. The local store is a cache here, so failures
// are logged and swallowed.
func (b *base) mirror(ctx context.Context, data json.RawMessage) *schema.Record {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	rec, err := schema.DecodeRecord(data)
	if err != nil {
		b.logger.Warn().Err(err).Msg("response did not contain a record")
		return nil
	}
	if err := b.store.Put(ctx, rec); err != nil {
		b.logger.Warn().Err(err).Str("id", rec.ID).Msg("failed to cache record locally")
	}
	return rec
}
