package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Request is one call against the remote API. Path is relative to the
// client's base URL.
type Request struct {
	Method string
	Path   string
	Body   json.RawMessage
	Header http.Header
}

// Response is a received HTTP response, whatever its status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Envelope is the API's standard response body.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Envelope decodes the response body as the standard API envelope.
func (r *Response) Envelope() (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope (status %d): %w", r.Status, err)
	}
	return &env, nil
}

// Err returns a RejectionError for non-2xx responses and nil otherwise.
// The message is taken from the envelope when the body carries one.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	rej := &RejectionError{Status: r.Status}
	if env, err := r.Envelope(); err == nil {
		rej.Message = env.Message
	}
	if rej.Message == "" {
		rej.Message = http.StatusText(r.Status)
	}
	return rej
}
