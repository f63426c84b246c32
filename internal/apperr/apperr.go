// Package apperr defines the error taxonomy reported by the admin API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code classifies a failure.
type Code string

const (
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeUnprocessable Code = "UNPROCESSABLE"
	CodeInternal      Code = "INTERNAL"
)

// Error is an application error with a client-facing message.
type Error struct {
	Code    Code
	Message string
	// JobID names the job the error concerns, if any (the holder on Conflict).
	JobID string
	// RetryAfter is advisory client backoff, set on Conflict.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidInput reports malformed input.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing batch, path or job.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports that jobID already holds the slot; retry is the advisory backoff.
func Conflict(jobID string, retry time.Duration, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...), JobID: jobID, RetryAfter: retry}
}

// Unprocessable reports a request the executor rejected on its merits.
func Unprocessable(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeUnprocessable, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Internal wraps an unexpected failure. The message is what the caller sees.
func Internal(cause error, message string) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, and
// CodeInternal for any other non-nil error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
