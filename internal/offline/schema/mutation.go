package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EffectKind names the optimistic change a queued mutation already applied
// to the local store.
type EffectKind string

const (
	EffectCreateCrop    EffectKind = "CREATE_CROP"
	EffectUpdateCrop    EffectKind = "UPDATE_CROP"
	EffectDeleteCrop    EffectKind = "DELETE_CROP"
	EffectAddSale       EffectKind = "ADD_SALE"
	EffectAddExpense    EffectKind = "ADD_EXPENSE"
	EffectUpdateExpense EffectKind = "UPDATE_EXPENSE"
	EffectDeleteExpense EffectKind = "DELETE_EXPENSE"
	EffectUpdateProfile EffectKind = "UPDATE_PROFILE"
)

// LocalEffect describes the optimistic state change that accompanied a
// queued write.
type LocalEffect struct {
	Kind     EffectKind      `json:"type"`
	RecordID string          `json:"id,omitempty"`
	CropID   string          `json:"cropId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Mutation is one entry of the pending write log.
//
// QID is assigned by the queue on insertion and is the only ordering key:
// replay happens in ascending QID, which equals submission order.
type Mutation struct {
	QID        int64           `json:"qid"`
	Method     string          `json:"method"` // POST, PUT, PATCH, DELETE
	Path       string          `json:"url"`    // relative to the API base, e.g. /crops/123
	Payload    json.RawMessage `json:"body,omitempty"`
	Label      string          `json:"label"`
	Effect     *LocalEffect    `json:"localEffect,omitempty"`
	InsertedAt time.Time       `json:"ts"`
}

// Validate checks that the mutation can be replayed.
func (m *Mutation) Validate() error {
	switch m.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	case "":
		return fmt.Errorf("method is required")
	default:
		return fmt.Errorf("method %s is not a write method", m.Method)
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path must be relative to the API base and start with /, got %q", m.Path)
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

// TempRef returns the first path segment that is a temp id. Such a
// mutation addresses a record the server has not assigned an id to yet
// and must not be sent.
func (m *Mutation) TempRef() (string, bool) {
	for _, seg := range strings.Split(m.Path, "/") {
		if IsTempID(seg) {
			return seg, true
		}
	}
	return "", false
}

// ResolveID points every reference to oldID, in the path and in the local
// effect, at newID instead. It reports whether anything changed.
func (m *Mutation) ResolveID(oldID, newID string) bool {
	if oldID == "" || oldID == newID {
		return false
	}
	changed := false
	segs := strings.Split(m.Path, "/")
	for i, seg := range segs {
		if seg == oldID {
			segs[i] = url.PathEscape(newID)
			changed = true
		}
	}
	if changed {
		m.Path = strings.Join(segs, "/")
	}
	if m.Effect != nil {
		if m.Effect.RecordID == oldID {
			m.Effect.RecordID = newID
			changed = true
		}
		if m.Effect.CropID == oldID {
			m.Effect.CropID = newID
			changed = true
		}
	}
	return changed
}

// References reports whether the path or the local effect addresses id.
func (m *Mutation) References(id string) bool {
	for _, seg := range strings.Split(m.Path, "/") {
		if seg == id {
			return true
		}
	}
	return m.Effect != nil && (m.Effect.RecordID == id || m.Effect.CropID == id)
}

// CreatesTemp returns the temp id a CREATE_CROP mutation introduced.
func (m *Mutation) CreatesTemp() (string, bool) {
	if m.Effect == nil || m.Effect.Kind != EffectCreateCrop || !IsTempID(m.Effect.RecordID) {
		return "", false
	}
	return m.Effect.RecordID, true
}

// NewMutation builds a mutation, encoding payload as JSON. A nil payload
// yields a body-less request.
func NewMutation(method, path string, payload any, label string, effect *LocalEffect) (*Mutation, error) {
	m := &Mutation{
		Method: strings.ToUpper(method),
		Path:   path,
		Label:  label,
		Effect: effect,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for %s %s: %w", method, path, err)
		}
		m.Payload = raw
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewEffect builds a LocalEffect, encoding data as JSON when present.
func NewEffect(kind EffectKind, recordID, cropID string, data any) *LocalEffect {
	e := &LocalEffect{Kind: kind, RecordID: recordID, CropID: cropID}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}
