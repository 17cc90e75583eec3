package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestClient(t *testing.T, srv *httptest.Server, session SessionStore, onUnauthorized func()) *Client {
	t.Helper()
	cfg := DefaultConfig(srv.URL + "/api")
	cfg.Session = session
	cfg.OnUnauthorized = onUnauthorized
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

// TestNew_Validation tests base URL checks
func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"https", "https://kisan-sathi-app.vercel.app/api", false},
		{"http with trailing slash", "http://localhost:5000/api/", false},
		{"empty", "", true},
		{"no scheme", "localhost:5000/api", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(DefaultConfig(tt.baseURL))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestDo_SendsRequest tests headers, path joining, and body delivery
func TestDo_SendsRequest(t *testing.T) {
	var got struct {
		method, path, auth, contentType, correlation string
		body                                         map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.contentType = r.Header.Get("Content-Type")
		got.correlation = r.Header.Get("X-Correlation-ID")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &got.body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"data":{"_id":"abc"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, NewStaticSession("tok"), nil)
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/crops",
		Body:   json.RawMessage(`{"name":"Wheat"}`),
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}

	if !resp.OK() || resp.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", resp.Status)
	}
	if got.method != http.MethodPost || got.path != "/api/crops" {
		t.Errorf("request = %s %s, want POST /api/crops", got.method, got.path)
	}
	if got.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.contentType != "application/json" {
		t.Errorf("Content-Type = %q", got.contentType)
	}
	if got.correlation == "" {
		t.Error("X-Correlation-ID not set")
	}
	if got.body["name"] != "Wheat" {
		t.Errorf("body = %v", got.body)
	}

	env, err := resp.Envelope()
	if err != nil {
		t.Fatalf("Envelope() failed: %v", err)
	}
	if !env.Success || string(env.Data) != `{"_id":"abc"}` {
		t.Errorf("Envelope() = %+v", env)
	}
}

// TestDo_RejectionIsResponse tests that non-2xx statuses are returned as
// responses, not errors
func TestDo_RejectionIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"name is required"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil, nil)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/crops"})
	if err != nil {
		t.Fatalf("Do() error = %v, want response", err)
	}
	if resp.OK() {
		t.Error("OK() = true for 400")
	}

	var rej *RejectionError
	if !errors.As(resp.Err(), &rej) {
		t.Fatalf("Err() = %v, want RejectionError", resp.Err())
	}
	if rej.Status != http.StatusBadRequest || rej.Message != "name is required" {
		t.Errorf("RejectionError = %+v", rej)
	}
}

// TestDo_NetworkError tests that a refused connection is a NetworkError
func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv, nil, nil)
	srv.Close()

	resp, err := c.Get(context.Background(), "/crops")
	if resp != nil {
		t.Errorf("Get() response = %+v, want nil", resp)
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Get() error = %v, want NetworkError", err)
	}
	if !IsNetwork(err) {
		t.Error("IsNetwork() = false")
	}
}

// TestDo_Unauthorized tests session invalidation on 401
func TestDo_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	session := NewStaticSession("stale")
	called := false
	c := newTestClient(t, srv, session, func() { called = true })

	resp, err := c.Get(context.Background(), "/auth/me")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if resp.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", resp.Status)
	}
	if _, ok := session.Token(); ok {
		t.Error("session still holds a token after 401")
	}
	if !called {
		t.Error("OnUnauthorized hook not called")
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "farmer-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	return s
}

// TestFileSession tests persistence, expiry, and invalidation
func TestFileSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileSession(path)

	if _, ok := s.Token(); ok {
		t.Fatal("Token() ok = true for missing file")
	}

	valid := signedToken(t, time.Now().Add(time.Hour))
	if err := s.Save(valid); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if tok, ok := s.Token(); !ok || tok != valid {
		t.Errorf("Token() = (%q, %v), want saved token", tok, ok)
	}

	if err := s.Save(signedToken(t, time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, ok := s.Token(); ok {
		t.Error("Token() ok = true for expired JWT")
	}

	if err := s.Save("opaque-token"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if tok, ok := s.Token(); !ok || tok != "opaque-token" {
		t.Errorf("Token() = (%q, %v), want opaque token", tok, ok)
	}

	s.Invalidate()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("session file still exists after Invalidate(): %v", err)
	}
	if _, ok := s.Token(); ok {
		t.Error("Token() ok = true after Invalidate()")
	}
}
