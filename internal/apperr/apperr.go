package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input, before any store access.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks store failures that may succeed when retried.
	ErrTransient = errors.New("store temporarily unavailable")
	// ErrConflict is returned when a one-way transition has already happened.
	ErrConflict = errors.New("conflict")
	// ErrNotificationDelivery marks a failed notification. Never fatal.
	ErrNotificationDelivery = errors.New("notification delivery failed")
)

// NotFound reports a missing entity of the given kind.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// Validation reports malformed input.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Conflict reports a rejected state transition.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
