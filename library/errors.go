package library

import (
	"errors"
	"fmt"
)

// Code classifies a client-side failure.
type Code string

const (
	// CodeFetch marks a failed list or detail load. Views show a blocking error.
	CodeFetch Code = "FETCH"
	// CodeAction marks a failed borrow, return, delete or save. Prior state is kept.
	CodeAction Code = "ACTION"
	// CodeValidation marks a form that was rejected before any remote call.
	CodeValidation Code = "VALIDATION"
	// CodeUnauthenticated marks an operation that needs a logged-in user.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
)

// Error is a user-facing error. Message is what the terminal shows; the
// cause, when present, carries the transport detail for logs.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrFetch           = &Error{Code: CodeFetch, Message: "fetch failed"}
	ErrAction          = &Error{Code: CodeAction, Message: "action failed"}
	ErrValidation      = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "you need to log in first"}
)

func fetchError(msg string, cause error) *Error {
	return &Error{Code: CodeFetch, Message: msg, cause: cause}
}

func actionError(msg string, cause error) *Error {
	return &Error{Code: CodeAction, Message: msg, cause: cause}
}

func actionErrorf(format string, args ...any) *Error {
	return &Error{Code: CodeAction, Message: fmt.Sprintf(format, args...)}
}

func validationError(msg string, details map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Message returns the text a user should see for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api status %d", e.Status)
}

// serverMessage prefers the message the server sent over fallback.
func serverMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
