package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error is a recognized, intentional failure kind raised by an admission stage
// or a handler. Anything else reaching the translator is unclassified and maps
// to a generic 500.
type Error struct {
	Status  int
	Code    string
	Message string
	// RetryAfter is set for rate-limit rejections only.
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: msg}
}

// RateLimited carries a tier-specific code so dashboards can tell which
// window was exhausted.
func RateLimited(tier string, retryAfter time.Duration) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{
		Status:     http.StatusTooManyRequests,
		Code:       "RATE_LIMITED_" + tier,
		Message:    "rate limit exceeded, retry after the window elapses",
		RetryAfter: retryAfter,
	}
}

// Internal wraps an unclassified failure. The cause is kept for server-side
// logging and never serialized.
func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "internal error", cause: err}
}

// Translate maps any failure to the wire-level error. Recognized kinds pass
// through; everything else becomes INTERNAL_ERROR with the original failure
// retained as the cause.
func Translate(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
