package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/config"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "strings and numbers",
			args: []string{"name=Wheat", "area=2.5", "organic=true"},
			want: map[string]any{"name": "Wheat", "area": 2.5, "organic": true},
		},
		{
			name: "value with equals sign",
			args: []string{"note=a=b"},
			want: map[string]any{"note": "a=b"},
		},
		{
			name: "json array",
			args: []string{"tags=[\"rabi\"]"},
			want: map[string]any{"tags": []any{"rabi"}},
		},
		{name: "missing equals", args: []string{"Wheat"}, wantErr: true},
		{name: "empty key", args: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFields() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("parseFields() = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

// TestParseOlderThan tests durations and natural-language cutoffs
func TestParseOlderThan(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseOlderThan("90m", now)
	if err != nil {
		t.Fatalf("parseOlderThan(90m) failed: %v", err)
	}
	if want := now.Add(-90 * time.Minute); !got.Equal(want) {
		t.Errorf("parseOlderThan(90m) = %v, want %v", got, want)
	}

	got, err = parseOlderThan("2 hours ago", now)
	if err != nil {
		t.Fatalf("parseOlderThan(2 hours ago) failed: %v", err)
	}
	if diff := now.Sub(got); diff < 119*time.Minute || diff > 121*time.Minute {
		t.Errorf("parseOlderThan(2 hours ago) = %v, want about 2h before %v", got, now)
	}

	if _, err := parseOlderThan("xyzzy", now); err == nil {
		t.Error("parseOlderThan(xyzzy) succeeded")
	}
}

func sampleQueue(t *testing.T) []queueItem {
	t.Helper()
	m, err := schema.NewMutation("POST", "/crops", map[string]any{"name": "Wheat"}, "Add crop: Wheat",
		schema.NewEffect(schema.EffectCreateCrop, "temp_1", "", nil))
	if err != nil {
		t.Fatalf("NewMutation() failed: %v", err)
	}
	m.QID = 1
	m.InsertedAt = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	return toQueueItems([]*schema.Mutation{m})
}

// TestWriteQueue tests the three output formats
func TestWriteQueue(t *testing.T) {
	items := sampleQueue(t)
	if items[0].Effect != "CREATE_CROP" {
		t.Errorf("effect = %q", items[0].Effect)
	}

	var buf bytes.Buffer
	if err := writeQueue(&buf, items, "json"); err != nil {
		t.Fatalf("writeQueue(json) failed: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json output does not parse: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["label"] != "Add crop: Wheat" {
		t.Errorf("json output = %v", decoded)
	}

	buf.Reset()
	if err := writeQueue(&buf, items, "yaml"); err != nil {
		t.Fatalf("writeQueue(yaml) failed: %v", err)
	}
	for _, want := range []string{"qid: 1", "method: POST", "Add crop: Wheat", "name: Wheat"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("yaml output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := writeQueue(&buf, items, "table"); err != nil {
		t.Fatalf("writeQueue(table) failed: %v", err)
	}
	if !strings.Contains(buf.String(), "/crops") || !strings.Contains(buf.String(), "QID") {
		t.Errorf("table output = %s", buf.String())
	}

	if err := writeQueue(&buf, items, "xml"); err == nil {
		t.Error("writeQueue(xml) succeeded")
	}
}

func TestCropRows(t *testing.T) {
	rows := cropRows([]*schema.Record{
		{ID: "c1", Data: map[string]any{"name": "Rice", "status": "Active"}},
		{ID: "temp_5", Temp: true, Queued: true, Data: map[string]any{"name": "Wheat"}},
	})
	if got := strings.Join(rows[0], "|"); got != "c1|Rice|Active|" {
		t.Errorf("row 0 = %s", got)
	}
	if got := rows[1][3]; got != "unsynced,queued" {
		t.Errorf("row 1 flags = %s", got)
	}
}

func TestSessionPath(t *testing.T) {
	c := config.DefaultConfig()
	c.Store.Path = filepath.Join("data", "khetbook.db")
	if got, want := sessionPath(c), filepath.Join("data", "session.json"); got != want {
		t.Errorf("sessionPath() = %s, want %s", got, want)
	}
	c.API.TokenFile = "/tmp/token.json"
	if got := sessionPath(c); got != "/tmp/token.json" {
		t.Errorf("sessionPath() = %s, want token file", got)
	}
}

// TestCacheLoader tests that the daemon's reload path reads cache.version
func TestCacheLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "khetbook.toml")
	c := config.DefaultConfig()
	c.Cache.Origin = "http://localhost:5173"
	c.Cache.Version = "v7"
	if err := config.Write(path, c, false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	got, err := cacheLoader(path)()
	if err != nil {
		t.Fatalf("cacheLoader() failed: %v", err)
	}
	if got.Version != "v7" || got.Origin != "http://localhost:5173" {
		t.Errorf("cache config = %+v", got)
	}

	if err := os.WriteFile(path, []byte("[sync]\npolicy = \"sometimes\"\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := cacheLoader(path)(); err == nil {
		t.Error("cacheLoader() accepted an invalid config")
	}
}
