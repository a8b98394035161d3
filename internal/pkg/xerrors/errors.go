// Package xerrors holds the billing engine's error taxonomy.
package xerrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("billing: not found")
	ErrIdempotentNoop       = errors.New("billing: event already applied")
	ErrUnmappedProduct      = errors.New("billing: platform product id has no local package")
	ErrVersionConflict      = errors.New("billing: subscription was modified concurrently")
	ErrSharedSecretMismatch = errors.New("billing: notification password mismatch")
)

// ValidationError rejects a command before any state is touched.
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
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ThrottledError is returned for plan changes inside the cooldown window.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("plan was changed recently, retry in %s", e.RetryAfter.Round(time.Second))
}

// ProviderError wraps a payment provider failure. Nothing was persisted when it is returned.
type ProviderError struct {
	Provider  string
	Op        string
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InvariantViolation marks a state that must never exist, e.g. two live subscriptions.
type InvariantViolation struct {
	UserID  int64
	Message string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for user %d: %s", e.UserID, e.Message)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsThrottled(err error) bool {
	var v *ThrottledError
	return errors.As(err, &v)
}

func IsProvider(err error) bool {
	var v *ProviderError
	return errors.As(err, &v)
}

// IsRetryable reports whether a provider error should be redelivered by the caller.
func IsRetryable(err error) bool {
	var v *ProviderError
	return errors.As(err, &v) && v.Retryable
}

func IsInvariant(err error) bool {
	var v *InvariantViolation
	return errors.As(err, &v)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
