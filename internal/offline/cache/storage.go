package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/db"
)

// Storage is the namespaced response store, persisted in the offline
// database.
type Storage struct {
	store *db.Store
}

// NewStorage returns cache storage backed by store.
func NewStorage(store *db.Store) *Storage {
	return &Storage{store: store}
}

// Put stores e in namespace ns, replacing any entry for the same request.
func (s *Storage) Put(ctx context.Context, ns string, e *Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	row, err := encode(ns, e)
	if err != nil {
		return err
	}
	return s.store.PutCacheEntry(ctx, row)
}

// Match looks up the entry for method and url in ns.
func (s *Storage) Match(ctx context.Context, ns, method, url string) (*Entry, bool, error) {
	row, found, err := s.store.GetCacheEntry(ctx, ns, Key(method, url))
	if err != nil || !found {
		return nil, false, err
	}
	e, err := decode(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached %s: %w", url, err)
	}
	return e, true, nil
}

// Namespaces lists every namespace that exists.
func (s *Storage) Namespaces(ctx context.Context) ([]string, error) {
	return s.store.CacheNamespaces(ctx)
}

// Open creates ns if needed.
func (s *Storage) Open(ctx context.Context, ns string) error {
	return s.store.OpenCacheNamespace(ctx, ns)
}

// Delete drops ns and its entries.
func (s *Storage) Delete(ctx context.Context, ns string) error {
	return s.store.DeleteCacheNamespace(ctx, ns)
}

// URLs lists the URLs cached in ns.
func (s *Storage) URLs(ctx context.Context, ns string) ([]string, error) {
	return s.store.CacheURLs(ctx, ns)
}
