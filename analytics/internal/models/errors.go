package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that failed validation; never retried, never persisted.
	ErrValidation = errors.New("validation failed")

	// ErrAdmissionDenied is returned when the rate gate rejects a request.
	ErrAdmissionDenied = errors.New("rate limited")

	// ErrBackendUnavailable wraps storage failures on the primary write path.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrAuthFailed is the single error for every credential failure.
	ErrAuthFailed = errors.New("unauthorized")

	// ErrUnknownSite is returned when a query names a site outside the allow-list.
	ErrUnknownSite = errors.New("unknown site")
)

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid constructs a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
