// Package migrate moves the offline state between devices as JSONL.
//
// An export holds one header line, then every local record, then every
// pending mutation in qid order. Importing re-enqueues the mutations in
// file order so the fresh qids keep their relative order.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// FormatVersion is written in the header line.
const FormatVersion = 1

// Line kinds.
const (
	KindHeader   = "header"
	KindRecord   = "record"
	KindMutation = "mutation"
)

// Line is one JSONL line of an export.
type Line struct {
	Kind       string           `json:"kind"`
	Version    int              `json:"version,omitempty"`
	ExportedAt *time.Time       `json:"exportedAt,omitempty"`
	Record     *schema.Record   `json:"record,omitempty"`
	Mutation   *schema.Mutation `json:"mutation,omitempty"`
}

// Source is what an export reads.
type Source interface {
	GetAll(ctx context.Context) ([]*schema.Record, error)
	List(ctx context.Context) ([]*schema.Mutation, error)
}

// Sink is what an import writes.
type Sink interface {
	Put(ctx context.Context, rec *schema.Record) error
	Enqueue(ctx context.Context, m *schema.Mutation) (int64, error)
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun      bool // Validate without writing
	SkipRecords bool // Import only the queue
}

// Result contains statistics about an export or import
type Result struct {
	Records   int
	Mutations int
	Errors    []string
}

// ExportJSONL writes the local records and the pending queue to w.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) (*Result, error) {
	records, err := src.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	mutations, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	now := time.Now().UTC()
	if err := enc.Encode(Line{Kind: KindHeader, Version: FormatVersion, ExportedAt: &now}); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	result := &Result{}
	for _, rec := range records {
		if err := enc.Encode(Line{Kind: KindRecord, Record: rec}); err != nil {
			return nil, fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
		result.Records++
	}
	for _, m := range mutations {
		if err := enc.Encode(Line{Kind: KindMutation, Mutation: m}); err != nil {
			return nil, fmt.Errorf("failed to write mutation %d: %w", m.QID, err)
		}
		result.Mutations++
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return result, nil
}

// ExportFile writes an export to path atomically via a temp file.
func ExportFile(ctx context.Context, src Source, path string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := ExportJSONL(ctx, src, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// ImportJSONL restores an export. Lines that fail validation are reported
// in Result.Errors and skipped; malformed JSON stops the import.
func ImportJSONL(ctx context.Context, dst Sink, r io.Reader, opts ImportOptions) (*Result, error) {
	result := &Result{}
	dec := json.NewDecoder(r)

	for lineNum := 1; ; lineNum++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var line Line
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		switch line.Kind {
		case KindHeader:
			if line.Version > FormatVersion {
				return result, fmt.Errorf("export format %d is newer than supported %d", line.Version, FormatVersion)
			}

		case KindRecord:
			if opts.SkipRecords {
				continue
			}
			if err := importRecord(ctx, dst, line.Record, opts.DryRun); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			result.Records++

		case KindMutation:
			if err := importMutation(ctx, dst, line.Mutation, opts.DryRun); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			result.Mutations++

		default:
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: unknown kind %q", lineNum, line.Kind))
		}
	}

	return result, nil
}

// ImportFile is ImportJSONL over the file at path.
func ImportFile(ctx context.Context, dst Sink, path string, opts ImportOptions) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()
	return ImportJSONL(ctx, dst, bufio.NewReader(f), opts)
}

func importRecord(ctx context.Context, dst Sink, rec *schema.Record, dryRun bool) error {
	if rec == nil {
		return fmt.Errorf("record line without record")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if dryRun {
		return nil
	}
	if err := dst.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.ID, err)
	}
	return nil
}

func importMutation(ctx context.Context, dst Sink, m *schema.Mutation, dryRun bool) error {
	if m == nil {
		return fmt.Errorf("mutation line without mutation")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation %q: %w", m.Label, err)
	}
	if dryRun {
		return nil
	}

	// The queue assigns a fresh qid.
	m.QID = 0
	if _, err := dst.Enqueue(ctx, m); err != nil {
		return fmt.Errorf("failed to queue %q: %w", m.Label, err)
	}
	return nil
}
