// Package apperr defines the error taxonomy shared by the feed client, the
// alert store, the dispatcher and the relay.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports missing or malformed input. Its Message is safe to
// show to callers verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError wraps a failure of an external dependency such as the price
// feed, the mail relay or an SMTP server.
type UpstreamError struct {
	Source string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s upstream error (%d): %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("%s upstream error: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream builds an UpstreamError without an HTTP status.
func Upstream(source string, err error) error {
	return &UpstreamError{Source: source, Err: err}
}

// StoreError wraps a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store builds a StoreError, returning nil for a nil err.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// RateLimitError reports that a caller exhausted its request budget.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// IsStore reports whether err carries a StoreError.
func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

// IsRateLimit reports whether err carries a RateLimitError.
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}
