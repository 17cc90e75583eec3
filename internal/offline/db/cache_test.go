package db

import (
	"bytes"
	"context"
	"testing"
)

// TestCacheEntry_PutGet tests storing and reading an entry
func TestCacheEntry_PutGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &CacheRow{
		Namespace: "khetbook-shell-v3",
		Key:       "k1",
		Method:    "GET",
		URL:       "http://app.local/logo.png",
		Meta:      []byte{0xa0},
		Body:      []byte("png"),
	}
	if err := s.PutCacheEntry(ctx, row); err != nil {
		t.Fatalf("PutCacheEntry() failed: %v", err)
	}

	got, found, err := s.GetCacheEntry(ctx, "khetbook-shell-v3", "k1")
	if err != nil {
		t.Fatalf("GetCacheEntry() failed: %v", err)
	}
	if !found {
		t.Fatal("GetCacheEntry() found = false")
	}
	if !bytes.Equal(got.Body, []byte("png")) || got.URL != row.URL {
		t.Errorf("GetCacheEntry() = %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt not set")
	}

	if _, found, _ := s.GetCacheEntry(ctx, "khetbook-api-v3", "k1"); found {
		t.Error("entry visible from another namespace")
	}
}

// TestCacheNamespace_Delete tests that deleting a namespace drops its entries
func TestCacheNamespace_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ns := range []string{"khetbook-shell-v2", "khetbook-shell-v3"} {
		err := s.PutCacheEntry(ctx, &CacheRow{Namespace: ns, Key: "k", Method: "GET", URL: "http://app.local/", Meta: []byte{0xa0}})
		if err != nil {
			t.Fatalf("PutCacheEntry(%s) failed: %v", ns, err)
		}
	}
	if err := s.OpenCacheNamespace(ctx, "khetbook-fonts-v3"); err != nil {
		t.Fatalf("OpenCacheNamespace() failed: %v", err)
	}

	names, err := s.CacheNamespaces(ctx)
	if err != nil {
		t.Fatalf("CacheNamespaces() failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("CacheNamespaces() = %v, want 3 names", names)
	}

	if err := s.DeleteCacheNamespace(ctx, "khetbook-shell-v2"); err != nil {
		t.Fatalf("DeleteCacheNamespace() failed: %v", err)
	}
	if _, found, _ := s.GetCacheEntry(ctx, "khetbook-shell-v2", "k"); found {
		t.Error("entry survived namespace deletion")
	}
	if _, found, _ := s.GetCacheEntry(ctx, "khetbook-shell-v3", "k"); !found {
		t.Error("entry in unrelated namespace was deleted")
	}

	urls, err := s.CacheURLs(ctx, "khetbook-shell-v3")
	if err != nil {
		t.Fatalf("CacheURLs() failed: %v", err)
	}
	if len(urls) != 1 || urls[0] != "http://app.local/" {
		t.Errorf("CacheURLs() = %v", urls)
	}
}
