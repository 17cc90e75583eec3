// Package loadtest exercises the offline store and sync engine under
// concurrent writers.
//
// It simulates several clients (browser tabs, CLI invocations) queueing
// writes at once against the same database file, checks that the queue
// keeps every writer's submission order, and measures how fast a sync pass
// drains the result against an in-process API.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/db"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
	offsync "github.com/tikaramgahane2k4/khetbook/internal/offline/sync"
)

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Total int
	// Errors counts failed operations; they are not part of the latencies.
	Errors int
}

// ReplayStats describes one sync pass over a loaded queue.
type ReplayStats struct {
	Replayed  int
	Remaining int
	Elapsed   time.Duration
	PerSecond float64
}

// TestStore is a database populated for load testing.
type TestStore struct {
	Store   *db.Store
	CropIDs []string
}

// CreateTestStore opens the database at path and seeds it with numCrops
// synced crops.
func CreateTestStore(ctx context.Context, path string, numCrops int) (*TestStore, error) {
	store, err := db.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	crops := generateCrops(numCrops)
	if err := store.PutAll(ctx, crops); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to seed crops: %w", err)
	}

	ts := &TestStore{Store: store, CropIDs: make([]string, 0, numCrops)}
	for _, c := range crops {
		ts.CropIDs = append(ts.CropIDs, c.ID)
	}
	return ts, nil
}

// Close closes the database.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// writeOp is the payload every load-test mutation carries.
type writeOp struct {
	Writer int    `json:"writer"`
	Seq    int    `json:"seq"`
	CropID string `json:"cropId,omitempty"`
}

// RunConcurrentWrites has numWriters goroutines each enqueue
// writesPerWriter mutations, and reports Enqueue latency.
func (ts *TestStore) RunConcurrentWrites(ctx context.Context, numWriters, writesPerWriter int) (*LatencyStats, error) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		all    []time.Duration
		errCount atomic.Int32
	)

	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(writer) + 1))
			durations := make([]time.Duration, 0, writesPerWriter)

			for seq := 0; seq < writesPerWriter; seq++ {
				m, err := ts.mutation(rng, writer, seq)
				if err != nil {
					errCount.Add(1)
					continue
				}
				start := time.Now()
				_, err = ts.Store.Enqueue(ctx, m)
				elapsed := time.Since(start)
				if err != nil {
					errCount.Add(1)
					continue
				}
				durations = append(durations, elapsed)
			}

			mu.Lock()
			all = append(all, durations...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	if len(all) == 0 {
		return nil, fmt.Errorf("no successful writes completed")
	}
	stats := computeLatencyStats(all)
	stats.Errors = int(errCount.Load())
	return stats, nil
}

// mutation builds one write, alternating between the shapes the app
// queues: crop updates, sales and expenses.
func (ts *TestStore) mutation(rng *rand.Rand, writer, seq int) (*schema.Mutation, error) {
	op := writeOp{Writer: writer, Seq: seq}
	label := fmt.Sprintf("load w%d #%d", writer, seq)
	if len(ts.CropIDs) == 0 {
		return schema.NewMutation(http.MethodPost, "/crops", op, label, nil)
	}

	op.CropID = ts.CropIDs[rng.Intn(len(ts.CropIDs))]
	switch seq % 3 {
	case 0:
		return schema.NewMutation(http.MethodPut, "/crops/"+op.CropID, op, label,
			schema.NewEffect(schema.EffectUpdateCrop, op.CropID, "", nil))
	case 1:
		return schema.NewMutation(http.MethodPost, "/crops/"+op.CropID+"/sales", op, label, nil)
	default:
		return schema.NewMutation(http.MethodPost, "/expenses/"+op.CropID, op, label, nil)
	}
}

// VerifyOrder checks that the queue holds every writer's mutations in the
// order that writer submitted them, and returns the number of items seen.
func (ts *TestStore) VerifyOrder(ctx context.Context) (int, error) {
	items, err := ts.Store.List(ctx)
	if err != nil {
		return 0, err
	}

	last := make(map[int]int)
	var prevQID int64
	for _, m := range items {
		if m.QID <= prevQID {
			return 0, fmt.Errorf("qid %d listed after %d", m.QID, prevQID)
		}
		prevQID = m.QID

		var op writeOp
		if err := json.Unmarshal(m.Payload, &op); err != nil {
			return 0, fmt.Errorf("mutation %d has no load-test payload: %w", m.QID, err)
		}
		if prev, seen := last[op.Writer]; seen && op.Seq <= prev {
			return 0, fmt.Errorf("writer %d: seq %d queued after seq %d", op.Writer, op.Seq, prev)
		}
		last[op.Writer] = op.Seq
	}
	return len(items), nil
}

// RunReplay drains the queue through a sync engine talking to an
// in-process API that answers every write with 200.
func (ts *TestStore) RunReplay(ctx context.Context) (*ReplayStats, error) {
	gwConfig := gateway.DefaultConfig("http://loadtest.invalid/api")
	gwConfig.Transport = acceptAll{}
	client, err := gateway.New(gwConfig)
	if err != nil {
		return nil, err
	}

	opts := offsync.DefaultOptions()
	opts.RefreshPath = ""
	engine := offsync.New(ts.Store, ts.Store, client, alwaysOnline{}, opts)
	defer engine.Close()

	start := time.Now()
	res, err := engine.SyncNow(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay failed: %w", err)
	}
	elapsed := time.Since(start)

	stats := &ReplayStats{Replayed: res.Done, Remaining: res.Remaining, Elapsed: elapsed}
	if elapsed > 0 {
		stats.PerSecond = float64(res.Done) / elapsed.Seconds()
	}
	return stats, nil
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// acceptAll answers every request with a success envelope.
type acceptAll struct{}

func (acceptAll) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
	}
	body := []byte(`{"success":true,"data":{}}`)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

var cropNames = []string{"Wheat", "Rice", "Cotton", "Soybean", "Sugarcane", "Onion", "Tur", "Gram"}

// generateCrops creates synced crops with a realistic spread of fields.
func generateCrops(count int) []*schema.Record {
	rng := rand.New(rand.NewSource(42))
	crops := make([]*schema.Record, count)
	for i := range crops {
		crops[i] = &schema.Record{
			ID: fmt.Sprintf("crop-%04d", i+1),
			Data: map[string]any{
				"name":     cropNames[rng.Intn(len(cropNames))],
				"area":     float64(rng.Intn(40)+1) / 4,
				"status":   "Active",
				"expenses": []any{},
				"sales":    []any{},
			},
			UpdatedAt: time.Now().Add(-time.Duration(rng.Intn(90*24)) * time.Hour),
		}
	}
	return crops
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Total: len(sorted),
	}
}

// Rows renders the stats as label/value pairs for table output.
func (s *LatencyStats) Rows() [][]string {
	return [][]string{
		{"Writes", fmt.Sprint(s.Total)},
		{"Errors", fmt.Sprint(s.Errors)},
		{"Min", s.Min.String()},
		{"P50 (Median)", s.P50.String()},
		{"Mean", s.Mean.String()},
		{"P95", s.P95.String()},
		{"P99", s.P99.String()},
		{"Max", s.Max.String()},
	}
}
