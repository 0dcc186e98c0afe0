package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error carrying the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
	// Fields names the offending input fields for validation and duplicate-key errors.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func Wrap(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

func BadRequest(message string) *Error { return New(http.StatusBadRequest, message) }

// Validation reports missing or invalid fields.
func Validation(message string, fields ...string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message, Fields: fields}
}

// Duplicate is the conflict raised by a unique index. The API reports it as 400.
func Duplicate(field string) *Error {
	if field == "" {
		return &Error{Status: http.StatusBadRequest, Message: "Duplicate value"}
	}
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf("Duplicate value for %s", field), Fields: []string{field}}
}

func NotFound(message string) *Error     { return New(http.StatusNotFound, message) }
func Unauthorized(message string) *Error { return New(http.StatusUnauthorized, message) }
func Forbidden(message string) *Error    { return New(http.StatusForbidden, message) }
func Locked(message string) *Error       { return New(http.StatusLocked, message) }

func TooManyRequests() *Error {
	return New(http.StatusTooManyRequests, "Too many requests. Please try again later.")
}

func Internal(message string, err error) *Error {
	return Wrap(http.StatusInternalServerError, message, err)
}

// As unwraps err into an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err, 500 when it is not an *Error.
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
