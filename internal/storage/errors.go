// Package storage provides the durable login event store.
package storage

import (
	"errors"
	"fmt"
)

// Storage error kinds for categorizing failures.
var (
	// ErrConnectionFailed indicates a failure to reach the database.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("storage: query failed")

	// ErrAppendFailed indicates a login event write could not be
	// committed.
	ErrAppendFailed = errors.New("storage: append failed")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("storage: store closed")
)

// StorageError wraps storage errors with operation context.
type StorageError struct {
	Op    string // Operation that failed (e.g., "Append", "CountInRange")
	Table string // Table involved, if applicable
	Err   error  // Underlying error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(op string, err error) error {
	return &StorageError{
		Op:  op,
		Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err),
	}
}

// WrapQueryError wraps an error as a query error.
func WrapQueryError(op, table string, err error) error {
	return &StorageError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %v", ErrQueryFailed, err),
	}
}

// WrapAppendError wraps an error as an append error.
func WrapAppendError(op, table string, err error) error {
	return &StorageError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %v", ErrAppendFailed, err),
	}
}

// IsConnectionError checks if the error is a connection error.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsAppendError checks if the error is an append error.
func IsAppendError(err error) bool {
	return errors.Is(err, ErrAppendFailed)
}
