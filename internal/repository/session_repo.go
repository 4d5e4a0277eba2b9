package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// PostgresSessionRepo implements SessionStore.
type PostgresSessionRepo struct {
	db DB
}

var _ SessionStore = (*PostgresSessionRepo)(nil)

// NewPostgresSessionRepo constructs the session repository.
func NewPostgresSessionRepo(db DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const sessionColumns = `id, user_id, token, ip, user_agent, device_info, created_at, last_active_at, expires_at, is_revoked, revoked_at, revoked_reason`

func scanSession(row scanner) (domain.Session, error) {
	var s domain.Session
	var reason *string
	if err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.IP, &s.UserAgent, &s.DeviceInfo,
		&s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt, &s.IsRevoked, &s.RevokedAt, &reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, err
	}
	s.RevokedReason = deref(reason)
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// CreateWithEviction serializes creations per user with a transaction-scoped
// advisory lock, revokes the oldest active sessions and inserts s.
func (r *PostgresSessionRepo) CreateWithEviction(ctx context.Context, s domain.Session, max int, now time.Time) ([]domain.Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.UserID); err != nil {
		return nil, fmt.Errorf("lock user sessions: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT `+sessionColumns+` FROM admin_sessions
		 WHERE user_id = $1 AND is_revoked = false AND expires_at > $2
		 ORDER BY last_active_at ASC FOR UPDATE`, s.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	active, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	var evicted []domain.Session
	for i := 0; max > 0 && len(active)-i >= max; i++ {
		victim := active[i]
		if _, err := tx.Exec(ctx,
			`UPDATE admin_sessions SET is_revoked = true, revoked_at = $2, revoked_reason = $3 WHERE id = $1`,
			victim.ID, now, domain.RevokeReasonMaxSessions); err != nil {
			return nil, fmt.Errorf("evict session: %w", err)
		}
		revokedAt := now
		victim.IsRevoked = true
		victim.RevokedAt = &revokedAt
		victim.RevokedReason = domain.RevokeReasonMaxSessions
		evicted = append(evicted, victim)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO admin_sessions (id, user_id, token, ip, user_agent, device_info, created_at, last_active_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.Token, s.IP, s.UserAgent, s.DeviceInfo, s.CreatedAt, s.LastActiveAt, s.ExpiresAt); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session tx: %w", err)
	}
	return evicted, nil
}

// GetByToken looks a session up by token.
func (r *PostgresSessionRepo) GetByToken(ctx context.Context, token string) (domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM admin_sessions WHERE token = $1`, token))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, fmt.Errorf("get session by token: %w", err)
	}
	return s, err
}

// GetByID looks a session up by id.
func (r *PostgresSessionRepo) GetByID(ctx context.Context, sessionID string) (domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM admin_sessions WHERE id = $1`, sessionID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, err
}

// Touch refreshes last_active_at on a non-revoked session.
func (r *PostgresSessionRepo) Touch(ctx context.Context, token string, at time.Time) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE admin_sessions SET last_active_at = $2 WHERE token = $1 AND is_revoked = false`, token, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Revoke revokes the session holding token.
func (r *PostgresSessionRepo) Revoke(ctx context.Context, token, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_sessions SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		 WHERE token = $1 AND is_revoked = false`, token, at, reason)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeByID revokes a session only when it belongs to userID.
func (r *PostgresSessionRepo) RevokeByID(ctx context.Context, userID, sessionID, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_sessions SET is_revoked = true, revoked_at = $3, revoked_reason = $4
		 WHERE id = $1 AND user_id = $2 AND is_revoked = false`, sessionID, userID, at, reason)
	if err != nil {
		return false, fmt.Errorf("revoke session by id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllForUser revokes every non-revoked session of userID.
func (r *PostgresSessionRepo) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_sessions SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		 WHERE user_id = $1 AND is_revoked = false`, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActive returns active sessions, most recently active first.
func (r *PostgresSessionRepo) ListActive(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM admin_sessions
		 WHERE user_id = $1 AND is_revoked = false AND expires_at > $2
		 ORDER BY last_active_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return collectSessions(rows)
}

// RevokeExpired revokes sessions whose absolute expiry has passed.
func (r *PostgresSessionRepo) RevokeExpired(ctx context.Context, reason string, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_sessions SET is_revoked = true, revoked_at = $1, revoked_reason = $2
		 WHERE is_revoked = false AND expires_at <= $1`, now, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
