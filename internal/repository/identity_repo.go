package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// PostgresIdentityRepo implements IdentityStore.
type PostgresIdentityRepo struct {
	db     DB
	logger *zap.Logger
}

var _ IdentityStore = (*PostgresIdentityRepo)(nil)

// NewPostgresIdentityRepo constructs the identity repository.
func NewPostgresIdentityRepo(db DB, logger *zap.Logger) *PostgresIdentityRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresIdentityRepo{db: db, logger: logger}
}

const userColumns = `id, email, name, tenant_id, password_hash, created_at, deleted_at`

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.TenantID, &u.PasswordHash, &u.CreatedAt, &u.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

// GetIdentityByEmail loads a live user with roles and approved JIT grants.
func (r *PostgresIdentityRepo) GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error) {
	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`, email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("get user by email: %w", err)
	}

	roles, err := r.queryRoles(ctx,
		`SELECT r.id, r.name, r.permissions FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`, user.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("list user roles: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, role_id, status, expires_at FROM jit_access_requests WHERE user_id = $1 AND status = $2`,
		user.ID, string(domain.JitApproved))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("list jit grants: %w", err)
	}
	defer rows.Close()

	var grants []domain.JitAccessRequest
	for rows.Next() {
		var g domain.JitAccessRequest
		var status string
		if err := rows.Scan(&g.ID, &g.UserID, &g.RoleID, &status, &g.ExpiresAt); err != nil {
			return domain.Identity{}, fmt.Errorf("scan jit grant: %w", err)
		}
		g.Status = domain.JitStatus(status)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return domain.Identity{}, fmt.Errorf("iterate jit grants: %w", err)
	}

	return domain.Identity{User: user, Roles: roles, JitGrants: grants}, nil
}

// GetUserByID loads a user regardless of deletion state.
func (r *PostgresIdentityRepo) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// RolesByIDs loads roles by id.
func (r *PostgresIdentityRepo) RolesByIDs(ctx context.Context, roleIDs []string) ([]domain.Role, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	roles, err := r.queryRoles(ctx, `SELECT id, name, permissions FROM roles WHERE id = ANY($1)`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("roles by ids: %w", err)
	}
	return roles, nil
}

// CreateUser inserts a user.
func (r *PostgresIdentityRepo) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, name, tenant_id, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.TenantID, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// UpdatePasswordHash replaces the hash of a live user.
func (r *PostgresIdentityRepo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1 AND deleted_at IS NULL`, userID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertRole inserts or updates a role by name.
func (r *PostgresIdentityRepo) UpsertRole(ctx context.Context, role domain.Role) (domain.Role, error) {
	perms, err := domain.EncodePermissions(role.Permissions)
	if err != nil {
		return domain.Role{}, err
	}
	err = r.db.QueryRow(ctx,
		`INSERT INTO roles (id, name, permissions) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET permissions = EXCLUDED.permissions
		 RETURNING id`,
		role.ID, role.Name, perms).Scan(&role.ID)
	if err != nil {
		return domain.Role{}, fmt.Errorf("upsert role: %w", err)
	}
	return role, nil
}

// AssignRole links a role to a user.
func (r *PostgresIdentityRepo) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (r *PostgresIdentityRepo) queryRoles(ctx context.Context, sql string, args ...any) ([]domain.Role, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		var raw string
		if err := rows.Scan(&role.ID, &role.Name, &raw); err != nil {
			return nil, err
		}
		perms, err := domain.DecodePermissions(raw)
		if err != nil {
			// an unreadable permission list grants nothing
			r.logger.Warn("ignoring malformed role permissions", zap.String("role_id", role.ID), zap.Error(err))
		}
		role.Permissions = perms
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
