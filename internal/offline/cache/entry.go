package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/db"
)

// Entry is a stored response.
type Entry struct {
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Response builds a fresh *http.Response for req from the entry.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderCache, CacheHit)
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// entryMeta is the CBOR-encoded part of a stored row. Integer keys keep
// it compact and stable across field renames.
type entryMeta struct {
	Status     int                 `cbor:"1,keyasint"`
	Header     map[string][]string `cbor:"2,keyasint,omitempty"`
	Compressed bool                `cbor:"3,keyasint,omitempty"`
	Size       int                 `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// Key returns the storage key for a request identity: the blake3 hash of
// "METHOD URL".
func Key(method, url string) string {
	sum := blake3.Sum256([]byte(method + " " + url))
	return hex.EncodeToString(sum[:])
}

// encode turns e into a row for namespace ns. Bodies are zstd-compressed
// when that makes them smaller.
func encode(ns string, e *Entry) (*db.CacheRow, error) {
	meta := entryMeta{
		Status: e.Status,
		Header: e.Header,
		Size:   len(e.Body),
	}

	body := e.Body
	if len(body) > 0 {
		if compressed := zstdEncoder.EncodeAll(body, nil); len(compressed) < len(body) {
			body = compressed
			meta.Compressed = true
		}
	}

	rawMeta, err := encMode.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry metadata: %w", err)
	}

	return &db.CacheRow{
		Namespace: ns,
		Key:       Key(e.Method, e.URL),
		Method:    e.Method,
		URL:       e.URL,
		Meta:      rawMeta,
		Body:      body,
		StoredAt:  e.StoredAt,
	}, nil
}

// decode is the inverse of encode.
func decode(row *db.CacheRow) (*Entry, error) {
	var meta entryMeta
	if err := cbor.Unmarshal(row.Meta, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
	}

	body := row.Body
	if meta.Compressed {
		out, err := zstdDecoder.DecodeAll(row.Body, make([]byte, 0, meta.Size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != meta.Size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), meta.Size)
		}
		body = out
	}
	if body == nil {
		body = []byte{}
	}

	return &Entry{
		Method:   row.Method,
		URL:      row.URL,
		Status:   meta.Status,
		Header:   http.Header(meta.Header),
		Body:     body,
		StoredAt: row.StoredAt,
	}, nil
}
