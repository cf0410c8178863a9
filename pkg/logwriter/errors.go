package logwriter

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrFull is returned by Write when the record buffer is at capacity. The record was not accepted
	// and the caller decides whether to drop, retry or spill it elsewhere.
	ErrFull = errors.New("record buffer is full")
	// ErrClosed is returned by Write once Close has been called.
	ErrClosed = errors.New("writer is closed")
	// ErrDrainTimeout is matched by *DrainTimeoutError.
	ErrDrainTimeout = errors.New("graceful drain did not complete before the close deadline")
	// ErrRetriesExhausted is the dead-letter reason for batches that ran out of attempts or retry wait budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StoreError carries the retry classification of a failed store operation.
// Stores should wrap transport errors with Retryable or Fatal before returning them.
type StoreError struct {
	Retryable bool
	Err       error
}

func (e *StoreError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("retryable store error: %v", e.Err)
	}
	return fmt.Sprintf("fatal store error: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Retryable marks err as transient (connectivity, timeout, throttling).
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Retryable: true, Err: err}
}

// Fatal marks err as permanent (malformed document, schema violation, authorisation).
// Batches failing with a fatal error are dead-lettered without being retried.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Retryable: false, Err: err}
}

// IsRetryable reports whether err should be retried. Errors that carry no classification are
// assumed to be transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Retryable
	}
	return true
}

// DrainTimeoutError is returned by Close when the final drain did not finish within the close deadline.
// It is a warning: the writer has shut down and the undelivered records are handed to the dead-letter sink.
type DrainTimeoutError struct {
	Deadline    time.Duration
	Undelivered int
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("graceful drain exceeded deadline of %s with %d records undelivered", e.Deadline, e.Undelivered)
}

func (e *DrainTimeoutError) Is(target error) bool {
	return target == ErrDrainTimeout
}
