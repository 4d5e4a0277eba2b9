package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized signals a request without a usable identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden signals a valid identity lacking permission or tenant scope.
	ErrForbidden = errors.New("forbidden")
	// ErrOriginViolation signals a cross-origin state-changing request.
	ErrOriginViolation = errors.New("origin violation")
	// ErrCSRFViolation signals a missing or invalid double-submit token.
	ErrCSRFViolation = errors.New("csrf violation")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuditWriteFailed aborts a fail-closed audited mutation.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrInvalidCredentials is returned by the login flow.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// RateLimitError carries the time left in the current window.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// RetryAfterSeconds rounds the remaining window up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// SessionError reports why a presented session was rejected.
type SessionError struct {
	Reason string
}

func (e *SessionError) Error() string {
	return "session invalid: " + e.Reason
}

// AccessDeniedError reports an environmental policy rejection.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}

// HandlerError lets a business handler emit a structured error response
// without the pipeline treating it as an unexpected failure.
type HandlerError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *HandlerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// NewHandlerError builds a HandlerError.
func NewHandlerError(status int, code, message string) *HandlerError {
	return &HandlerError{Status: status, Code: code, Message: message}
}
