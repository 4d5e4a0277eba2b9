package domain

import "time"

// Severity ranks security events and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventStatus is the outcome of the observed action.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
)

// Security event types.
const (
	EventLoginAttempt   = "LOGIN_ATTEMPT"
	EventLogout         = "LOGOUT"
	EventSessionRevoked = "SESSION_REVOKED"
	EventAccessDenied   = "ACCESS_DENIED"
	EventRateLimited    = "RATE_LIMITED"
	EventCSRFViolation  = "CSRF_VIOLATION"
)

// Alert types raised by the reputation engine.
const (
	AlertFailedLoginThreshold = "FAILED_LOGIN_THRESHOLD_EXCEEDED"
	AlertSuspiciousIP         = "SUSPICIOUS_IP_ACTIVITY"
	AlertBruteForce           = "BRUTE_FORCE_DETECTED"
)

// SecurityEvent is the persisted record of one observed security event.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"eventType"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"userId,omitempty"`
	Email     string         `json:"email,omitempty"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"userAgent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    EventStatus    `json:"status"`
}

// IPReputation is a decaying trust estimate for one address.
type IPReputation struct {
	IP                 string    `json:"ip"`
	Score              float64   `json:"score"`
	FailedAttempts     int       `json:"failedAttempts"`
	FirstSeen          time.Time `json:"firstSeen"`
	LastSeen           time.Time `json:"lastSeen"`
	LastEventTimestamp time.Time `json:"lastEventTimestamp"`
}

// SecurityAlert is raised when a reputation threshold is crossed.
type SecurityAlert struct {
	ID        string         `json:"id"`
	AlertType string         `json:"alertType"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Resolved  bool           `json:"resolved"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	IncludeResolved bool
	Limit           int
}

// RateLimitCounter is a fixed-window counter keyed by operation and actor.
type RateLimitCounter struct {
	Key     string
	Count   int
	ResetAt time.Time
}
