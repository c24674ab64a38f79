package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrProvider     = errors.New("provider error")
	ErrUnauthorized = errors.New("unauthorized")
)

// UserNotVerified is the message shown for unknown users and for users whose
// provider could not confirm them; the two cases are deliberately indistinguishable.
const UserNotVerified = "User does not exist or not verified."

type AppError struct {
	Err     error  // sentinel the error matches with errors.Is
	Message string // human-readable message
	Field   string // optional field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(message string) *AppError {
	return &AppError{Err: ErrNotFound, Message: message}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{Err: ErrValidation, Message: message, Field: field}
}

func Conflict(resource, value string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s %q is already taken", resource, value),
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{Err: ErrUnauthorized, Message: message}
}

// providerError keeps the provider's cause reachable through errors.Is/As while
// matching ErrProvider.
type providerError struct {
	provider string
	cause    error
}

func (e *providerError) Error() string {
	return fmt.Sprintf("%s: %v", e.provider, e.cause)
}

func (e *providerError) Unwrap() []error {
	return []error{ErrProvider, e.cause}
}

// Provider wraps a failure talking to an external provider.
func Provider(provider string, cause error) error {
	if cause == nil {
		return nil
	}
	return &providerError{provider: provider, cause: cause}
}

// Message returns the human-readable message of an AppError, or fallback.
func Message(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return fallback
}
