package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrAccessDenied means the API rejected the token (error code 602).
	// This invalidates the whole run, not a single number.
	ErrAccessDenied = errors.New("fssp api access denied: authentication rejected (error 602)")

	// ErrInsufficientBalance means the token has no paid lookups left
	// (error code 498). Also run-level: every further call would fail too.
	ErrInsufficientBalance = errors.New("fssp api token balance exhausted (error 498)")
)

// IsFatal reports whether an error invalidates the entire run rather than a
// single number. Fatal errors are never retried per-identifier.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInsufficientBalance)
}

// APIError represents a lookup failure with its classification.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fssp %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fssp %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are terminal for the number, retrying wastes budget
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
