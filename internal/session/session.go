// Package session manages admin login sessions: creation under a
// concurrency cap, dual-expiry validation, activity refresh and revocation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const (
	DefaultMaxConcurrent = 3
	DefaultAbsoluteTTL   = 30 * 24 * time.Hour
	DefaultInactivityTTL = time.Hour
)

// Config tunes session limits.
type Config struct {
	MaxConcurrent int
	AbsoluteTTL   time.Duration
	InactivityTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.AbsoluteTTL <= 0 {
		c.AbsoluteTTL = DefaultAbsoluteTTL
	}
	if c.InactivityTTL <= 0 {
		c.InactivityTTL = DefaultInactivityTTL
	}
	return c
}

// Result is the outcome of validating a presented token.
type Result struct {
	Valid   bool
	Session *domain.Session
	Error   string
}

// Manager owns the session lifecycle.
type Manager struct {
	store  repository.SessionStore
	node   *snowflake.Node
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewManager constructs a Manager.
func NewManager(store repository.SessionStore, node *snowflake.Node, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, node: node, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// WithClock overrides the manager clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Config returns the effective limits.
func (m *Manager) Config() Config { return m.cfg }

// Create opens a session for userID, evicting the least recently active
// session when the user is already at the cap.
func (m *Manager) Create(ctx context.Context, userID string, device DeviceInfo) (domain.Session, error) {
	now := m.now()
	sess := domain.Session{
		ID:           m.node.Generate().String(),
		UserID:       userID,
		Token:        uuid.NewString(),
		IP:           device.IP,
		UserAgent:    device.UserAgent,
		DeviceInfo:   device.String(),
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.cfg.AbsoluteTTL),
	}
	evicted, err := m.store.CreateWithEviction(ctx, sess, m.cfg.MaxConcurrent, now)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	for _, e := range evicted {
		m.logger.Info("session evicted",
			zap.String("user_id", userID),
			zap.String("session_id", e.ID),
			zap.String("reason", domain.RevokeReasonMaxSessions),
		)
	}
	return sess, nil
}

// Validate checks token in order: not found, revoked, expired, inactive.
func (m *Manager) Validate(ctx context.Context, token string) (Result, error) {
	if token == "" {
		return Result{Error: domain.SessionNotFound}, nil
	}
	sess, err := m.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{Error: domain.SessionNotFound}, nil
		}
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	now := m.now()
	switch {
	case sess.IsRevoked:
		return Result{Session: &sess, Error: domain.SessionRevoked}, nil
	case now.After(sess.ExpiresAt):
		return Result{Session: &sess, Error: domain.SessionExpired}, nil
	case now.Sub(sess.LastActiveAt) > m.cfg.InactivityTTL:
		return Result{Session: &sess, Error: domain.SessionInactiveTimeout}, nil
	}
	return Result{Valid: true, Session: &sess}, nil
}

// Touch refreshes lastActiveAt. Callers must have validated token first.
func (m *Manager) Touch(ctx context.Context, token string) error {
	if err := m.store.Touch(ctx, token, m.now()); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Revoke ends the session behind token. Revoking twice is a no-op.
func (m *Manager) Revoke(ctx context.Context, token, reason string) error {
	if _, err := m.store.Revoke(ctx, token, reason, m.now()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeByID ends one of userID's sessions, reporting whether it changed.
func (m *Manager) RevokeByID(ctx context.Context, userID, sessionID, reason string) (bool, error) {
	changed, err := m.store.RevokeByID(ctx, userID, sessionID, reason, m.now())
	if err != nil {
		return false, fmt.Errorf("revoke session by id: %w", err)
	}
	return changed, nil
}

// RevokeAll ends every open session of userID.
func (m *Manager) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID, reason, m.now())
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return n, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListActive returns userID's non-revoked, unexpired sessions.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	out, err := m.store.ListActive(ctx, userID, m.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// CountActive returns the number of sessions counting against the cap.
func (m *Manager) CountActive(ctx context.Context, userID string) (int, error) {
	out, err := m.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

// CleanupExpired revokes sessions past their absolute expiry.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.store.RevokeExpired(ctx, domain.RevokeReasonExpired, m.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return n, nil
}
