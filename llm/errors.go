package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode aligns transport failures with HTTP status, retryability and
// fallback routing.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "LLM_INVALID_REQUEST"
	ErrUnauthorized        ErrorCode = "LLM_UNAUTHORIZED"
	ErrForbidden           ErrorCode = "LLM_FORBIDDEN"
	ErrRateLimited         ErrorCode = "LLM_RATE_LIMITED"
	ErrQuotaExceeded       ErrorCode = "LLM_QUOTA_EXCEEDED"
	ErrModelOverloaded     ErrorCode = "LLM_MODEL_OVERLOADED"
	ErrUpstreamTimeout     ErrorCode = "LLM_UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "LLM_UPSTREAM_ERROR"
	ErrProviderUnavailable ErrorCode = "LLM_PROVIDER_UNAVAILABLE"
)

// Error is a transport/status error. HTTPStatus is zero when the failure
// had no recognizable status code (network-level errors and the like).
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithHTTPStatus sets the HTTP-like status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider sets the originating provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// HTTPStatusOf extracts an HTTP-like status code from err, or 0 when none
// is recognizable anywhere in the chain.
func HTTPStatusOf(err error) int {
	var le *Error
	if errors.As(err, &le) {
		return le.HTTPStatus
	}
	return 0
}

// IsFallbackEligible reports whether a failed call may be retried against
// another model. Client errors (4xx) are terminal because the request
// itself is at fault, with the exception of 429 which only reflects the
// current target's load. Errors without a recognizable status default to
// eligible: the permissive default favors availability over fast-fail.
func IsFallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	status := HTTPStatusOf(err)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}
