package domain

import "time"

// Session revocation reasons.
const (
	RevokeReasonMaxSessions = "MAX_SESSIONS_REACHED"
	RevokeReasonExpired     = "SESSION_EXPIRED"
	RevokeReasonLogout      = "LOGOUT"
	RevokeReasonUser        = "USER_REVOKED"
	RevokeReasonUserAll     = "USER_REVOKED_ALL"
)

// Session validation outcomes.
const (
	SessionNotFound         = "SESSION_NOT_FOUND"
	SessionRevoked          = "SESSION_REVOKED"
	SessionExpired          = "SESSION_EXPIRED"
	SessionInactiveTimeout = "SESSION_INACTIVE_TIMEOUT"
)

// Session is a long-lived login record. Sessions are never deleted, only revoked.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Token         string     `json:"-"`
	IP            string     `json:"ip"`
	UserAgent     string     `json:"userAgent"`
	DeviceInfo    string     `json:"deviceInfo"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActiveAt  time.Time  `json:"lastActiveAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	IsRevoked     bool       `json:"isRevoked"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokedReason string     `json:"revokedReason,omitempty"`
}

// Active reports whether the session counts against the concurrency cap.
func (s Session) Active(now time.Time) bool {
	return !s.IsRevoked && s.ExpiresAt.After(now)
}
