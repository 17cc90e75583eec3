package schema

import (
	"encoding/json"
	"testing"
)

func TestNewMutation(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		payload any
		wantErr bool
	}{
		{name: "create", method: "POST", path: "/crops", payload: map[string]any{"name": "Wheat"}},
		{name: "lowercase method", method: "put", path: "/crops/1", payload: map[string]any{"area": 2}},
		{name: "delete without body", method: "DELETE", path: "/crops/1"},
		{name: "read method", method: "GET", path: "/crops", wantErr: true},
		{name: "empty method", method: "", path: "/crops", wantErr: true},
		{name: "absolute url", method: "POST", path: "https://api.example.com/crops", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMutation(tt.method, tt.path, tt.payload, "label", nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMutation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.payload == nil && m.Payload != nil {
				t.Errorf("Payload = %s, want nil", m.Payload)
			}
			if tt.payload != nil && !json.Valid(m.Payload) {
				t.Errorf("Payload is not valid JSON: %s", m.Payload)
			}
		})
	}
}

func TestMutation_ValidateRejectsBadPayload(t *testing.T) {
	m := &Mutation{Method: "POST", Path: "/crops", Payload: json.RawMessage(`{broken`)}
	if err := m.Validate(); err == nil {
		t.Fatal("Validate() accepted invalid JSON payload")
	}
}

func TestNewEffect(t *testing.T) {
	e := NewEffect(EffectCreateCrop, "temp_1", "", map[string]any{"name": "Wheat"})
	if e.Kind != EffectCreateCrop || e.RecordID != "temp_1" {
		t.Errorf("NewEffect() = %+v", e)
	}
	if !json.Valid(e.Data) {
		t.Errorf("Data = %s, want JSON", e.Data)
	}
}

// TestMutation_ResolveID tests rewriting temp id references
func TestMutation_ResolveID(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		effect     *LocalEffect
		wantPath   string
		wantRecord string
		wantCrop   string
		wantChange bool
	}{
		{
			name:       "crop update",
			path:       "/crops/temp_100",
			effect:     NewEffect(EffectUpdateCrop, "temp_100", "", nil),
			wantPath:   "/crops/c1",
			wantRecord: "c1",
			wantChange: true,
		},
		{
			name:       "sale",
			path:       "/crops/temp_100/sales",
			effect:     NewEffect(EffectAddSale, "", "temp_100", nil),
			wantPath:   "/crops/c1/sales",
			wantCrop:   "c1",
			wantChange: true,
		},
		{
			name:       "expense",
			path:       "/expenses/temp_100/e9",
			effect:     NewEffect(EffectUpdateExpense, "", "temp_100", nil),
			wantPath:   "/expenses/c1/e9",
			wantCrop:   "c1",
			wantChange: true,
		},
		{
			name:     "other temp id untouched",
			path:     "/crops/temp_1000",
			wantPath: "/crops/temp_1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMutation("PUT", tt.path, nil, "label", tt.effect)
			if err != nil {
				t.Fatalf("NewMutation() failed: %v", err)
			}
			if got := m.ResolveID("temp_100", "c1"); got != tt.wantChange {
				t.Errorf("ResolveID() = %v, want %v", got, tt.wantChange)
			}
			if m.Path != tt.wantPath {
				t.Errorf("Path = %s, want %s", m.Path, tt.wantPath)
			}
			if m.Effect != nil && (m.Effect.RecordID != tt.wantRecord || m.Effect.CropID != tt.wantCrop) {
				t.Errorf("Effect = %+v", m.Effect)
			}
		})
	}
}

func TestMutation_TempRef(t *testing.T) {
	m, _ := NewMutation("DELETE", "/crops/temp_42", nil, "Delete crop", nil)
	if ref, ok := m.TempRef(); !ok || ref != "temp_42" {
		t.Errorf("TempRef() = %q, %v", ref, ok)
	}
	m.Path = "/crops/c7"
	if _, ok := m.TempRef(); ok {
		t.Error("TempRef() found a temp id in /crops/c7")
	}

	create, _ := NewMutation("POST", "/crops", nil, "Add crop", NewEffect(EffectCreateCrop, "temp_42", "", nil))
	if id, ok := create.CreatesTemp(); !ok || id != "temp_42" {
		t.Errorf("CreatesTemp() = %q, %v", id, ok)
	}
	if _, ok := m.CreatesTemp(); ok {
		t.Error("CreatesTemp() true for a mutation without a create effect")
	}
}
