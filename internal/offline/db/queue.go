package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// Enqueue appends m to the pending write log and returns its qid. Qids are
// strictly increasing and never reused, even after Clear.
//
// Once Enqueue returns, the mutation survives a process restart until it
// is removed with Dequeue or Clear.
func (s *Store) Enqueue(ctx context.Context, m *schema.Mutation) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, &StorageError{Op: "enqueue mutation", Err: fmt.Errorf("invalid mutation: %w", err)}
	}
	if m.InsertedAt.IsZero() {
		m.InsertedAt = time.Now()
	}

	effect, err := encodeEffect(m.Effect)
	if err != nil {
		return 0, &StorageError{Op: "enqueue mutation", Err: err}
	}

	var payload sql.NullString
	if len(m.Payload) > 0 {
		payload = sql.NullString{String: string(m.Payload), Valid: true}
	}

	res, err := s.exec(ctx, "enqueue mutation", `
	INSERT INTO mutations (method, path, payload, label, effect, inserted_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		m.Method,
		m.Path,
		payload,
		m.Label,
		effect,
		m.InsertedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}

	qid, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "enqueue mutation", Err: err}
	}
	m.QID = qid
	return qid, nil
}

// List returns every pending mutation in ascending qid order. The queue
// never reorders or deduplicates its items.
func (s *Store) List(ctx context.Context) ([]*schema.Mutation, error) {
	return s.queryMutations(ctx, "list mutations", `
	SELECT qid, method, path, payload, label, effect, inserted_at
	FROM mutations ORDER BY qid ASC
	`)
}

// ListBefore returns pending mutations inserted before t, in qid order.
func (s *Store) ListBefore(ctx context.Context, t time.Time) ([]*schema.Mutation, error) {
	return s.queryMutations(ctx, "list mutations", `
	SELECT qid, method, path, payload, label, effect, inserted_at
	FROM mutations WHERE inserted_at < ? ORDER BY qid ASC
	`, t.UTC().Format(timeFormat))
}

func (s *Store) queryMutations(ctx context.Context, op, query string, args ...any) ([]*schema.Mutation, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	items, err := scanMutations(rows)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return items, nil
}

func scanMutations(rows *sql.Rows) ([]*schema.Mutation, error) {
	defer rows.Close()

	items := []*schema.Mutation{}
	for rows.Next() {
		var (
			m               schema.Mutation
			payload, effect sql.NullString
			insertedAt      string
		)
		if err := rows.Scan(&m.QID, &m.Method, &m.Path, &payload, &m.Label, &effect, &insertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		if payload.Valid {
			m.Payload = json.RawMessage(payload.String)
		}
		if effect.Valid {
			var e schema.LocalEffect
			if err := json.Unmarshal([]byte(effect.String), &e); err != nil {
				return nil, fmt.Errorf("failed to unmarshal effect of %d: %w", m.QID, err)
			}
			m.Effect = &e
		}
		if t, err := time.Parse(time.RFC3339Nano, insertedAt); err == nil {
			m.InsertedAt = t
		}
		items = append(items, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeEffect(e *schema.LocalEffect) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal local effect: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// ResolveTempID rewrites every pending mutation that addresses tempID, in
// its path or its local effect, to address serverID. It runs in one
// transaction so a write queued concurrently is either rewritten or sees
// the new id. It returns the number of rewritten mutations.
func (s *Store) ResolveTempID(ctx context.Context, tempID, serverID string) (int, error) {
	n := 0
	err := s.withTx(ctx, "resolve temp id "+tempID, func(tx *sql.Tx) error {
		pattern := "%" + tempID + "%"
		rows, err := tx.QueryContext(ctx, `
		SELECT qid, method, path, payload, label, effect, inserted_at
		FROM mutations WHERE path LIKE ? OR effect LIKE ? ORDER BY qid ASC
		`, pattern, pattern)
		if err != nil {
			return err
		}
		items, err := scanMutations(rows)
		if err != nil {
			return err
		}

		for _, m := range items {
			if id, ok := m.CreatesTemp(); ok && id == tempID {
				continue
			}
			if !m.ResolveID(tempID, serverID) {
				continue
			}
			effect, err := encodeEffect(m.Effect)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE mutations SET path = ?, effect = ? WHERE qid = ?`,
				m.Path, effect, m.QID); err != nil {
				return fmt.Errorf("failed to rewrite mutation %d: %w", m.QID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Dequeue removes exactly the mutation with the given qid. An unknown qid
// is a no-op.
func (s *Store) Dequeue(ctx context.Context, qid int64) error {
	_, err := s.exec(ctx, fmt.Sprintf("dequeue mutation %d", qid), `DELETE FROM mutations WHERE qid = ?`, qid)
	return err
}

// Clear drops every pending mutation. Reserved for unrecoverable
// server-side conflicts.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.exec(ctx, "clear mutations", `DELETE FROM mutations`)
	return err
}

// Len returns the number of pending mutations.
func (s *Store) Len(ctx context.Context) (int, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutations").Scan(&n); err != nil {
		return 0, &StorageError{Op: "count mutations", Err: err}
	}
	return n, nil
}
