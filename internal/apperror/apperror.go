// Package apperror defines the application's error taxonomy.
//
// Every layer below the HTTP handlers returns either one of these typed
// errors or a wrapped driver/runtime error. The handler layer maps the
// sentinel inside the chain to a status code; anything without a sentinel
// becomes a 500.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("Validation Error")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrBadState           = errors.New("bad state")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Reason codes carried in AppError.Field for errors that are not tied to a
// single input field.
const (
	ReasonInactive        = "inactive"
	ReasonNotPrivate      = "not_private"
	ReasonDuplicate       = "duplicate"
	ReasonMissingRequired = "missing_required"
)

type AppError struct {
	Err     error          // actual error
	Message string         // Human-readable error message
	Field   string         // Optional: field (or reason code) causing the error
	Details map[string]any // Optional: extra keys merged into the error envelope
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMessage is NotFound with a caller-chosen message, used where the
// client expects a fixed string such as "Form not found".
func NotFoundMessage(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// MissingRequired reports required questions that were left unanswered.
// The question IDs are exposed to the client as unansweredRequiredQuestions.
func MissingRequired(questionIDs []int) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: "All required questions must be answered",
		Field:   ReasonMissingRequired,
		Details: map[string]any{"unansweredRequiredQuestions": questionIDs},
	}
}

func Conflict(reason, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   reason,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// BadState reports an operation that is not allowed in the resource's
// current lifecycle state (inactive form, public form without allow-list).
func BadState(reason, message string) *AppError {
	return &AppError{
		Err:     ErrBadState,
		Message: message,
		Field:   reason,
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid credentials",
	}
}

// Reason returns the reason code of the first AppError in err's chain, or ""
// when there is none.
func Reason(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
