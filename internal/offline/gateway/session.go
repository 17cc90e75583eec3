package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionStore supplies the bearer credential. Login and token refresh
// happen elsewhere; the gateway only reads and invalidates.
type SessionStore interface {
	// Token returns the current bearer token, if any.
	Token() (string, bool)
	// Invalidate forgets the credential after the server rejected it.
	Invalidate()
}

// sessionFile is the persisted session document.
type sessionFile struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user,omitempty"`
}

// FileSession keeps the session document in a JSON file.
//
// Tokens that parse as JWTs are checked against their exp claim. The
// signature is not verified here: the server does that, and the client
// only needs to avoid sending a credential it already knows is stale.
type FileSession struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileSession returns a session backed by the file at path. The file
// does not need to exist.
func NewFileSession(path string) *FileSession {
	return &FileSession{path: path, now: time.Now}
}

// Token reads the stored token. Missing, unreadable, or expired sessions
// report false.
func (s *FileSession) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil || doc.Token == "" {
		return "", false
	}
	if expired(doc.Token, s.now()) {
		return "", false
	}
	return doc.Token, true
}

// Save writes token as the current session.
func (s *FileSession) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sessionFile{Token: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Invalidate removes the session file.
func (s *FileSession) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Overwrite instead so the stale token is never sent again.
		_ = os.WriteFile(s.path, []byte("{}"), 0600)
	}
}

// expired reports whether token is a JWT whose exp claim lies before now.
// Opaque tokens never expire client-side.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

// StaticSession is an in-memory SessionStore holding a fixed token.
type StaticSession struct {
	mu    sync.Mutex
	token string
}

// NewStaticSession returns a session holding token.
func NewStaticSession(token string) *StaticSession {
	return &StaticSession{token: token}
}

// Token returns the token unless it has been invalidated.
func (s *StaticSession) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Invalidate clears the token.
func (s *StaticSession) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
