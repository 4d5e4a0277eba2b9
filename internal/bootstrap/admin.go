package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/config"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/password"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const adminRole = "admin"

// EnsureAdmin seeds the wildcard admin role and, when ADMIN_EMAIL and
// ADMIN_PASSWORD are set, a bootstrap admin account.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, identities repository.IdentityStore, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, identities, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, identities repository.IdentityStore, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		if logger != nil {
			logger.Info("admin bootstrap skipped: ADMIN_EMAIL or ADMIN_PASSWORD not set")
		}
		return nil
	}

	role, err := identities.UpsertRole(ctx, domain.Role{
		ID:          node.Generate().String(),
		Name:        adminRole,
		Permissions: []string{domain.WildcardPermission},
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin role: %w", err)
	}

	if _, err := identities.GetIdentityByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := identities.CreateUser(ctx, domain.User{
		ID:           node.Generate().String(),
		Email:        email,
		Name:         "Admin",
		PasswordHash: hashed,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if err := identities.AssignRole(ctx, created.ID, role.ID); err != nil {
		return fmt.Errorf("bootstrap assign role: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.String("user_id", created.ID),
			zap.String("role_id", role.ID),
		)
	}
	return nil
}
