package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "offline.db")
}

// openTestStore opens a store on a fresh file and closes it at test end
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestNew_DoesNotTouchDisk tests that constructing a store is free of I/O
func TestNew_DoesNotTouchDisk(t *testing.T) {
	path := testDBPath(t)
	s := New(path)
	defer s.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("database file exists before first use: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

// TestInit_CreatesTables tests schema creation on first use
func TestInit_CreatesTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conn, err := s.db(ctx)
	if err != nil {
		t.Fatalf("db() failed: %v", err)
	}

	for _, table := range []string{"records", "kv", "mutations", "cache_namespaces", "cache_entries"} {
		var count int
		err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

// TestInit_Idempotent tests that Init can be called repeatedly
func TestInit_Idempotent(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Init(context.Background()); err != nil {
			t.Fatalf("Init() #%d failed: %v", i, err)
		}
	}
}

// TestLazyInit_ConcurrentCallers tests that concurrent first callers share
// one connection
func TestLazyInit_ConcurrentCallers(t *testing.T) {
	s := New(testDBPath(t))
	defer s.Close()

	ctx := context.Background()
	const callers = 16

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.GetAll(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent GetAll() failed: %v", err)
	}

	first, err := s.db(ctx)
	if err != nil {
		t.Fatalf("db() failed: %v", err)
	}
	second, _ := s.db(ctx)
	if first != second {
		t.Error("db() returned different handles")
	}
}

// TestOpen_FailureIsNotCached tests that a failed open is retried by the
// next caller
func TestOpen_FailureIsNotCached(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write blocker: %v", err)
	}

	// The parent "directory" is a regular file, so MkdirAll fails.
	path := filepath.Join(blocker, "offline.db")
	s := New(path)
	defer s.Close()

	err := s.Init(context.Background())
	if err == nil {
		t.Fatal("Init() succeeded, want error")
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("Init() error = %v, want ErrStorage", err)
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatalf("failed to remove blocker: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() after fixing path failed: %v", err)
	}
}

// TestClose_RejectsFurtherUse tests that operations on a closed store fail
func TestClose_RejectsFurtherUse(t *testing.T) {
	s, err := Open(context.Background(), testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	_, err = s.GetAll(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("GetAll() after Close error = %v, want ErrClosed", err)
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("GetAll() after Close error = %v, want ErrStorage", err)
	}
}

// TestStorageError_Unwrap tests that StorageError matches both the storage
// sentinel and its cause
func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{Op: "put record", Err: cause}

	if !errors.Is(err, ErrStorage) {
		t.Error("errors.Is(err, ErrStorage) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got, want := err.Error(), "failed to put record: disk full"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
