package errors

import (
	"fmt"
)

// NewValidationError creates an invalid-input error with field context.
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field)
}

// NewConfigError creates a configuration error.
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewPersistenceError wraps a failed durable write. It is retryable: the
// in-memory transition was not applied and the caller may replay the event.
func NewPersistenceError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodePersistence, fmt.Sprintf("durable %s failed", operation)).
		WithContext("operation", operation)
}

// NewNotFoundError creates a not-found error for a message or thread.
func NewNotFoundError(kind, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", kind)).
		WithContext(kind+"_id", id)
}

// NewRejectedTransitionError describes an event with no legal transition.
// Surfaced to observability by callers, never thrown past them.
func NewRejectedTransitionError(messageID, event string) *AppError {
	return New(ErrCodeRejectedTransition, "event has no legal transition from current state").
		WithContext("message_id", messageID).
		WithContext("event", event)
}
