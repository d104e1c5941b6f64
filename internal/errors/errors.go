// Package errors provides structured error types for the stageflow engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrValidation  = errors.New("validation failed")
	ErrConcurrency = errors.New("concurrent modification")
	ErrNotFound    = errors.New("resource not found")
	ErrPermission  = errors.New("permission denied")
	ErrNoNextStage = errors.New("no next stage")
	ErrUnavailable = errors.New("temporarily unavailable")
)

// NewUnavailableError wraps a transient external failure (webhook endpoint
// down, 5xx response) so callers can distinguish it from permanent rejection.
func NewUnavailableError(detail string) error {
	return fmt.Errorf("%s: %w", detail, ErrUnavailable)
}

// ValidationError reports an illegal request: bad stage reference, missing
// approved-target on a review stage, reserved-title collision, missing
// completion payload. Never retried; surfaced verbatim to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConcurrencyError reports that the task's stage or auto-start flag changed
// between read and write. The caller should refetch and may retry once.
type ConcurrencyError struct {
	TaskID string
	Detail string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrent modification of task %s: %s", e.TaskID, e.Detail)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrency }

// NewConcurrencyError creates a ConcurrencyError for the given task.
func NewConcurrencyError(taskID, detail string) *ConcurrencyError {
	return &ConcurrencyError{TaskID: taskID, Detail: detail}
}

// NotFoundError reports a missing task, stage, project or user.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a NotFoundError for the given resource.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// PermissionError reports that the actor lacks the role required for the
// requested operation.
type PermissionError struct {
	ActorID   string
	Operation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %s not permitted to %s", e.ActorID, e.Operation)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// NewPermissionError creates a PermissionError for the given actor/operation.
func NewPermissionError(actorID, operation string) *PermissionError {
	return &PermissionError{ActorID: actorID, Operation: operation}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConcurrency reports whether err is a concurrency conflict.
func IsConcurrency(err error) bool { return errors.Is(err, ErrConcurrency) }

// IsNotFound reports whether err is a missing-resource failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPermission reports whether err is a permission failure.
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }

// IsRetryable returns true if the error is likely transient and worth
// retrying. Validation, permission and not-found failures never are; a
// concurrency conflict is worth exactly one refetch-and-retry by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency) || errors.Is(err, ErrUnavailable)
}
