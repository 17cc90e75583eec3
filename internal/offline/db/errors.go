package db

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage matches every failure reported by the store.
	ErrStorage = errors.New("storage failure")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("store is closed")
)

// StorageError reports a failed storage transaction. It matches both
// ErrStorage and the underlying cause under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}
