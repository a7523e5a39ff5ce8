package repositories

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("tracked product not found")
	ErrAlreadyTracked = errors.New("product is already tracked")
	// ErrStaleWrite means a newer price was already recorded.
	ErrStaleWrite = errors.New("stale history write")
)

// StoreError wraps a failed store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
