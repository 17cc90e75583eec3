package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// PutAll replaces the whole record collection in one transaction: the
// table is cleared and every record written. Records deleted server-side
// while this client was offline do not survive a refresh.
func (s *Store) PutAll(ctx context.Context, records []*schema.Record) error {
	return s.withTx(ctx, "replace records", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
			return fmt.Errorf("failed to clear records: %w", err)
		}
		for _, rec := range records {
			if err := upsertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Put inserts or updates a single record by id.
func (s *Store) Put(ctx context.Context, rec *schema.Record) error {
	return s.withTx(ctx, "put record", func(tx *sql.Tx) error {
		return upsertRecord(ctx, tx, rec)
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, tx execer, rec *schema.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
	INSERT INTO records (id, temp, queued, data, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		temp = excluded.temp,
		queued = excluded.queued,
		data = excluded.data,
		updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		boolToInt(rec.Temp),
		boolToInt(rec.Queued),
		string(dataJSON),
		updatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// GetAll returns every record ordered by id. An empty store yields an
// empty, non-nil slice.
func (s *Store) GetAll(ctx context.Context) ([]*schema.Record, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT id, temp, queued, data, updated_at FROM records ORDER BY id`)
	if err != nil {
		return nil, &StorageError{Op: "list records", Err: err}
	}
	defer rows.Close()

	records := []*schema.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StorageError{Op: "list records", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list records", Err: err}
	}
	return records, nil
}

// GetByID returns the record with the given id. A missing record is
// reported through found, not as an error.
func (s *Store) GetByID(ctx context.Context, id string) (rec *schema.Record, found bool, err error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, false, err
	}

	row := conn.QueryRowContext(ctx, `SELECT id, temp, queued, data, updated_at FROM records WHERE id = ?`, id)
	rec, err = scanRecord(row)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "get record " + id, Err: err}
	}
	return rec, true, nil
}

// Remove deletes one record. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "remove record "+id, `DELETE FROM records WHERE id = ?`, id)
	return err
}

// Count returns the number of records in the snapshot.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, &StorageError{Op: "count records", Err: err}
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*schema.Record, error) {
	var (
		rec               schema.Record
		temp, queued      int
		dataJSON, updated string
	)
	if err := row.Scan(&rec.ID, &temp, &queued, &dataJSON, &updated); err != nil {
		return nil, err
	}

	rec.Temp = temp != 0
	rec.Queued = queued != 0
	if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", rec.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
