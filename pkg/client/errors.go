package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a backoff or limiter wait.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInternalInvariant is returned if the retry loop exits without resolving.
	// It cannot happen unless the loop itself is broken.
	ErrInternalInvariant = errors.New("retry loop exited without a result")

	// ErrDecodeBody is returned when a successful response carries invalid JSON.
	ErrDecodeBody = errors.New("decode response body")
)

// StatusError is returned for HTTP error statuses. Err is ErrRetryExhausted when the
// status was retryable but the budget ran out, and nil for final statuses.
type StatusError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	URL        string
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status belongs to a retryable class.
func (e *StatusError) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// TransportError is a network-level failure (timeout, refused connection, reset).
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns both the retry sentinel and the underlying network error.
func (e *TransportError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassServerFinal:
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
