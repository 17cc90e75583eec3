// Package schema provides data structures for the khetbook offline store.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TempIDPrefix marks ids minted locally while offline.
const TempIDPrefix = "temp_"

// Record is a domain entity (a crop) as last seen by this client.
//
// On the wire a record is the flat document the remote service returns:
// {"_id": "...", "name": "Wheat", ...}. ID and Temp are lifted out of the
// document; every other field is kept verbatim in Data.
type Record struct {
	// ===== Identification =====
	ID   string // server id, or temp_<millis> while the create is unsynced
	Temp bool   // true while ID is a temp id

	// ===== Content =====
	Data map[string]any

	// ===== Local bookkeeping (never sent to the remote service) =====
	Queued    bool      // written optimistically, replay still pending
	UpdatedAt time.Time // last local write
}

const (
	fieldID     = "_id"
	fieldTemp   = "__isTemp"
	fieldQueued = "queued"
)

// MarshalJSON renders the record as a flat document.
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		doc[k] = v
	}
	doc[fieldID] = r.ID
	if r.Temp {
		doc[fieldTemp] = true
	}
	if r.Queued {
		doc[fieldQueued] = true
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses a flat document. A temp_ id marks the record as
// temporary even when the __isTemp flag is missing.
func (r *Record) UnmarshalJSON(b []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	rec, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// FromDocument lifts _id, __isTemp and queued out of doc.
func FromDocument(doc map[string]any) (*Record, error) {
	id, ok := doc[fieldID].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("document has no %s", fieldID)
	}

	rec := &Record{ID: id, Data: make(map[string]any, len(doc))}
	for k, v := range doc {
		switch k {
		case fieldID:
		case fieldTemp:
			rec.Temp, _ = v.(bool)
		case fieldQueued:
			rec.Queued, _ = v.(bool)
		default:
			rec.Data[k] = v
		}
	}
	if IsTempID(id) {
		rec.Temp = true
	}
	return rec, nil
}

// Validate checks the id regime invariant.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Temp != IsTempID(r.ID) {
		return fmt.Errorf("record %s: temp marker does not match id regime", r.ID)
	}
	return nil
}

// Name returns the record's display name, if any.
func (r *Record) Name() string {
	name, _ := r.Data["name"].(string)
	return name
}

// Merge returns a copy of r with fields overwritten by patch.
func (r *Record) Merge(patch map[string]any) *Record {
	out := &Record{
		ID:        r.ID,
		Temp:      r.Temp,
		Queued:    r.Queued,
		UpdatedAt: r.UpdatedAt,
		Data:      make(map[string]any, len(r.Data)+len(patch)),
	}
	for k, v := range r.Data {
		out.Data[k] = v
	}
	for k, v := range patch {
		if k == fieldID || k == fieldTemp || k == fieldQueued {
			continue
		}
		out.Data[k] = v
	}
	return out
}

// IsTempID reports whether id was minted locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

var (
	tempMu   sync.Mutex
	lastTemp int64
)

// NewTempID mints a temp id from the wall clock in milliseconds. Ids are
// strictly increasing within the process so two creates in the same
// millisecond never collide.
func NewTempID(now time.Time) string {
	ms := now.UnixMilli()

	tempMu.Lock()
	if ms <= lastTemp {
		ms = lastTemp + 1
	}
	lastTemp = ms
	tempMu.Unlock()

	return TempIDPrefix + strconv.FormatInt(ms, 10)
}

// KVEntry is an ancillary singleton value, such as the cached user profile.
type KVEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// KeyUserProfile holds the last profile returned by /auth/me.
const KeyUserProfile = "user_profile"
