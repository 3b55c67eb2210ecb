package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a requested chunk, vector id or document is not known.
	ErrNotFound = errors.New("not found")
	// ErrExternalService is returned when an external service call fails.
	ErrExternalService = errors.New("external service error")

	// ErrDimensionMismatch is returned when vectors of a different width are added to an index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrFetchFailed is returned when the embedding service fails after its retry budget.
	ErrFetchFailed = fmt.Errorf("embedding fetch failed: %w", ErrExternalService)
	// ErrGenerationFailed is returned when the generation service fails.
	ErrGenerationFailed = fmt.Errorf("generation failed: %w", ErrExternalService)
	// ErrModelNotProvisioned is returned when the embedding service does not have the model yet.
	ErrModelNotProvisioned = errors.New("model not provisioned")
	// ErrReconcileInProgress is returned when a reconcile run is already active.
	ErrReconcileInProgress = errors.New("reconcile already in progress")
)

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match validation failures with errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
