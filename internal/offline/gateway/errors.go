package gateway

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every failure where no HTTP response was received.
var ErrNetwork = errors.New("network failure")

// NetworkError reports a request that produced no response: DNS failure,
// refused connection, timeout, or cancellation.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: no response: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// RejectionError is the error form of a received non-2xx response.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request rejected with status %d", e.Status)
	}
	return fmt.Sprintf("request rejected with status %d: %s", e.Status, e.Message)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
