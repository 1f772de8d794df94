// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// ErrNotFound indicates a target entity, proposal, or batch is missing.
	// Surfaced to the caller, never retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a proposal is already resolved or its batch has
	// expired. Idempotent approval maps it to a no-op success; refine and
	// reject surface it as an error.
	ErrConflict = errors.New("conflict")

	// ErrUpstreamUnavailable indicates the reasoning service or entity store
	// is transiently down. Callers retry with backoff.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrApplicationFailure indicates a store transaction failed while
	// applying an approved proposal. The proposal remains pending.
	ErrApplicationFailure = errors.New("application failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the reviewer.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
