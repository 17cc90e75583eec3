package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CacheRow is one stored response as the cache layer hands it over. Meta
// and Body are opaque to the store.
type CacheRow struct {
	Namespace string
	Key       string
	Method    string
	URL       string
	Meta      []byte
	Body      []byte
	StoredAt  time.Time
}

// OpenCacheNamespace creates the namespace if it does not exist yet.
func (s *Store) OpenCacheNamespace(ctx context.Context, name string) error {
	_, err := s.exec(ctx, "open cache "+name, `
	INSERT INTO cache_namespaces (name, created_at) VALUES (?, ?)
	ON CONFLICT(name) DO NOTHING
	`, name, time.Now().UTC().Format(timeFormat))
	return err
}

// CacheNamespaces lists every namespace, sorted by name.
func (s *Store) CacheNamespaces(ctx context.Context) ([]string, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT name FROM cache_namespaces ORDER BY name`)
	if err != nil {
		return nil, &StorageError{Op: "list caches", Err: err}
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StorageError{Op: "list caches", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list caches", Err: err}
	}
	return names, nil
}

// DeleteCacheNamespace drops a namespace and all of its entries.
func (s *Store) DeleteCacheNamespace(ctx context.Context, name string) error {
	return s.withTx(ctx, "delete cache "+name, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, name); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_namespaces WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete namespace: %w", err)
		}
		return nil
	})
}

// PutCacheEntry stores row, creating its namespace on demand and replacing
// any entry under the same key.
func (s *Store) PutCacheEntry(ctx context.Context, row *CacheRow) error {
	storedAt := row.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	ts := storedAt.UTC().Format(timeFormat)

	return s.withTx(ctx, "put cache entry", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_namespaces (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
		`, row.Namespace, ts); err != nil {
			return fmt.Errorf("failed to open namespace %s: %w", row.Namespace, err)
		}

		_, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, method, url, meta, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			method = excluded.method,
			url = excluded.url,
			meta = excluded.meta,
			body = excluded.body,
			stored_at = excluded.stored_at
		`, row.Namespace, row.Key, row.Method, row.URL, row.Meta, row.Body, ts)
		if err != nil {
			return fmt.Errorf("failed to write entry %s: %w", row.URL, err)
		}
		return nil
	})
}

// GetCacheEntry looks up one entry. A miss is reported through found.
func (s *Store) GetCacheEntry(ctx context.Context, namespace, key string) (*CacheRow, bool, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, false, err
	}

	row := CacheRow{Namespace: namespace, Key: key}
	var storedAt string
	err = conn.QueryRowContext(ctx, `
	SELECT method, url, meta, body, stored_at FROM cache_entries
	WHERE namespace = ? AND key = ?
	`, namespace, key).Scan(&row.Method, &row.URL, &row.Meta, &row.Body, &storedAt)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "get cache entry", Err: err}
	}
	if t, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
		row.StoredAt = t
	}
	return &row, true, nil
}

// CacheURLs lists the URLs stored in a namespace, sorted.
func (s *Store) CacheURLs(ctx context.Context, namespace string) ([]string, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT url FROM cache_entries WHERE namespace = ? ORDER BY url`, namespace)
	if err != nil {
		return nil, &StorageError{Op: "list cache entries", Err: err}
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, &StorageError{Op: "list cache entries", Err: err}
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list cache entries", Err: err}
	}
	return urls, nil
}
