package guard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// Error codes emitted in normalized error bodies.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeSessionInvalid   = "SESSION_INVALID"
	CodeForbidden        = "FORBIDDEN"
	CodeOriginViolation  = "ORIGIN_VIOLATION"
	CodeCSRFViolation    = "CSRF_VIOLATION"
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeAuditWriteFailed = "AUDIT_WRITE_FAILED"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

// APIError is the normalized form of any pipeline or handler error.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Details    map[string]any
	RetryAfter int
}

// ErrorBody is the JSON envelope for error responses.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries the machine readable code and correlation id.
type ErrorPayload struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId"`
}

// NormalizeError maps err onto the public error taxonomy. Unclassified
// errors never expose their message.
func NormalizeError(err error) APIError {
	var (
		handlerErr *domain.HandlerError
		sessionErr *domain.SessionError
		limitErr   *domain.RateLimitError
		deniedErr  *domain.AccessDeniedError
	)
	switch {
	case errors.As(err, &handlerErr):
		status := handlerErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := handlerErr.Code
		if code == "" {
			code = codeForStatus(status)
		}
		msg := handlerErr.Message
		if status >= http.StatusInternalServerError {
			msg = "internal server error"
		}
		return APIError{Status: status, Code: code, Message: msg, Details: handlerErr.Details}
	case errors.As(err, &sessionErr):
		return APIError{Status: http.StatusUnauthorized, Code: CodeSessionInvalid, Message: "session is no longer valid",
			Details: map[string]any{"reason": sessionErr.Reason}}
	case errors.As(err, &limitErr):
		secs := limitErr.RetryAfterSeconds()
		return APIError{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "too many requests",
			Details: map[string]any{"retryAfter": secs}, RetryAfter: secs}
	case errors.As(err, &deniedErr):
		return APIError{Status: http.StatusForbidden, Code: CodeAccessDenied, Message: "access denied by environment policy",
			Details: map[string]any{"reason": deniedErr.Reason}}
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return APIError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "authentication required"}
	case errors.Is(err, domain.ErrForbidden):
		return APIError{Status: http.StatusForbidden, Code: CodeForbidden, Message: "insufficient permissions"}
	case errors.Is(err, domain.ErrOriginViolation):
		return APIError{Status: http.StatusForbidden, Code: CodeOriginViolation, Message: "cross-origin request rejected"}
	case errors.Is(err, domain.ErrCSRFViolation):
		return APIError{Status: http.StatusForbidden, Code: CodeCSRFViolation, Message: "invalid csrf token"}
	case errors.Is(err, domain.ErrNotFound):
		return APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "resource not found"}
	case errors.Is(err, domain.ErrAuditWriteFailed):
		return APIError{Status: http.StatusInternalServerError, Code: CodeAuditWriteFailed, Message: "audit trail could not be written"}
	default:
		return APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if status >= http.StatusInternalServerError {
		return CodeInternal
	}
	return CodeBadRequest
}

// WriteError normalizes err, logs it and writes the error envelope.
func WriteError(c *gin.Context, logger *zap.Logger, err error) APIError {
	if logger == nil {
		logger = zap.L()
	}
	apiErr := NormalizeError(err)
	requestID := RequestID(c)

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("code", apiErr.Code),
		zap.Int("status", apiErr.Status),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	}
	if apiErr.Status >= http.StatusInternalServerError {
		logger.Error("guarded request failed", fields...)
	} else {
		logger.Warn("guarded request rejected", fields...)
	}

	c.Header(HeaderRequestID, requestID)
	c.Header(HeaderCacheControl, cacheNoStore)
	if apiErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	c.AbortWithStatusJSON(apiErr.Status, ErrorBody{Error: ErrorPayload{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		RequestID: requestID,
	}})
	return apiErr
}
