package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSizeExceeded     = errors.New("snapshot size exceeded")
	ErrGatewayFetch     = errors.New("gateway fetch failed")
	ErrParseFailed      = errors.New("snapshot parse failed")
	ErrValidationFailed = errors.New("snapshot validation failed")
	ErrCollectionWrite  = errors.New("collection write failed")
	ErrInvalidOptions   = errors.New("invalid restore options")
	// ErrCancelled marks an operation aborted by its caller's context.
	ErrCancelled = errors.New("operation cancelled")
)

// SizeExceededError is returned when a serialized snapshot is over the ceiling.
type SizeExceededError struct {
	Actual int64
	Limit  int64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("snapshot size %d bytes exceeds limit of %d bytes", e.Actual, e.Limit)
}

func (e *SizeExceededError) Is(target error) bool { return target == ErrSizeExceeded }

// FetchError wraps a gateway failure for one collection.
type FetchError struct {
	Collection string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Collection, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrGatewayFetch }

// ParseError is returned for unreadable snapshot documents.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse snapshot: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParseFailed }

// ValidationFailedError carries the validator errors that blocked a restore.
type ValidationFailedError struct {
	Errors []string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("snapshot failed validation: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationFailedError) Is(target error) bool { return target == ErrValidationFailed }

// CollectionWriteError describes a collection that did not restore fully.
// Written is the number of records committed before the failure.
type CollectionWriteError struct {
	Collection string
	Written    int
	Err        error
}

func (e *CollectionWriteError) Error() string {
	return fmt.Sprintf("failed to restore collection %s after %d records: %v", e.Collection, e.Written, e.Err)
}

func (e *CollectionWriteError) Unwrap() error { return e.Err }

func (e *CollectionWriteError) Is(target error) bool { return target == ErrCollectionWrite }

// cancelErr returns an ErrCancelled-wrapped error once ctx is done, nil otherwise.
func cancelErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
