package db

import (
	"context"
	"encoding/json"
	"fmt"
)

// KVSet stores value (JSON-encoded) under key, replacing any previous value.
func (s *Store) KVSet(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &StorageError{Op: "set " + key, Err: fmt.Errorf("failed to marshal value: %w", err)}
	}

	query := `
	INSERT INTO kv (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err = s.exec(ctx, "set "+key, query, key, string(raw))
	return err
}

// KVGet decodes the value stored under key into dst. found is false when
// the key has never been set.
func (s *Store) KVGet(ctx context.Context, key string, dst any) (found bool, err error) {
	conn, err := s.db(ctx)
	if err != nil {
		return false, err
	}

	var raw string
	err = conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "get " + key, Err: err}
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, &StorageError{Op: "get " + key, Err: fmt.Errorf("failed to unmarshal value: %w", err)}
	}
	return true, nil
}

// KVDelete removes key. Deleting an absent key is a no-op.
func (s *Store) KVDelete(ctx context.Context, key string) error {
	_, err := s.exec(ctx, "delete "+key, `DELETE FROM kv WHERE key = ?`, key)
	return err
}
