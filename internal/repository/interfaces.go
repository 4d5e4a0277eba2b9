package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// IdentityStore exposes users, role assignments and JIT grants.
type IdentityStore interface {
	// GetIdentityByEmail returns the live account for email with its assigned
	// roles and approved JIT grants. Soft-deleted users yield domain.ErrNotFound.
	GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error)
	GetUserByID(ctx context.Context, userID string) (domain.User, error)
	RolesByIDs(ctx context.Context, roleIDs []string) ([]domain.Role, error)
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	// UpdatePasswordHash replaces the stored hash of a live user.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	UpsertRole(ctx context.Context, role domain.Role) (domain.Role, error)
	AssignRole(ctx context.Context, userID, roleID string) error
}

// SessionStore persists session records.
type SessionStore interface {
	// CreateWithEviction revokes the least recently active sessions of the
	// user until fewer than max remain active at now, then inserts s. It must
	// run as one atomic operation.
	CreateWithEviction(ctx context.Context, s domain.Session, max int, now time.Time) (evicted []domain.Session, err error)
	GetByToken(ctx context.Context, token string) (domain.Session, error)
	GetByID(ctx context.Context, sessionID string) (domain.Session, error)
	Touch(ctx context.Context, token string, at time.Time) error
	Revoke(ctx context.Context, token, reason string, at time.Time) (bool, error)
	RevokeByID(ctx context.Context, userID, sessionID, reason string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)
	RevokeExpired(ctx context.Context, reason string, now time.Time) (int, error)
}

// AuditLogStore appends and lists immutable audit entries.
type AuditLogStore interface {
	Insert(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error)
}

// SecurityEventStore persists observed security events.
type SecurityEventStore interface {
	InsertEvent(ctx context.Context, event domain.SecurityEvent) error
}

// AlertStore persists raised security alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert domain.SecurityAlert) error
	ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.SecurityAlert, error)
}

// CounterStore performs atomic fixed-window increments.
type CounterStore interface {
	// Hit increments key, starting a fresh window of the given length when
	// none exists or the previous one has elapsed at now. fresh reports
	// whether a new window was started.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (counter domain.RateLimitCounter, fresh bool, err error)
}

// ReputationStore keeps per-IP reputation records with a retention TTL.
// Get returns (nil, nil) when no record exists.
type ReputationStore interface {
	Get(ctx context.Context, ip string) (*domain.IPReputation, error)
	Put(ctx context.Context, rep domain.IPReputation, ttl time.Duration) error
}
