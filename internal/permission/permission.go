// Package permission resolves identities into per-request authorization
// contexts and answers permission and tenant-scope questions about them.
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

// Set is the permission and role set type.
type Set = domain.StringSet

// TenantScope controls how tenant isolation applies to an operation.
type TenantScope int

const (
	// TenantScopeAny allows users without a tenant.
	TenantScopeAny TenantScope = iota
	// TenantScopeTenantOnly requires the caller to belong to a tenant.
	TenantScopeTenantOnly
)

// Resolver builds AuthContexts from the identity store.
type Resolver struct {
	store  repository.IdentityStore
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(store repository.IdentityStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the clock used to evaluate JIT grant expiry.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve maps email to an AuthContext. It returns (nil, nil) when no live
// account exists.
func (r *Resolver) Resolve(ctx context.Context, email string) (*domain.AuthContext, error) {
	if email == "" {
		return nil, nil
	}
	identity, err := r.store.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if !identity.User.Live() {
		return nil, nil
	}

	roles := domain.NewStringSet()
	perms := domain.NewStringSet()
	for _, role := range identity.Roles {
		roles.Add(role.Name)
		perms.Add(role.Permissions...)
	}

	now := r.now()
	var jitRoleIDs []string
	for _, grant := range identity.JitGrants {
		if grant.Active(now) {
			jitRoleIDs = append(jitRoleIDs, grant.RoleID)
		}
	}
	if len(jitRoleIDs) > 0 {
		jitRoles, err := r.store.RolesByIDs(ctx, jitRoleIDs)
		if err != nil {
			return nil, fmt.Errorf("load jit roles: %w", err)
		}
		for _, role := range jitRoles {
			perms.Add(role.Permissions...)
		}
	}

	return &domain.AuthContext{
		ID:          identity.User.ID,
		Email:       identity.User.Email,
		Name:        identity.User.Name,
		Roles:       roles,
		Permissions: perms,
		TenantID:    identity.User.TenantID,
	}, nil
}

// Authorize passes when the wildcard or every required permission is held.
func Authorize(auth *domain.AuthContext, required []string) error {
	if auth == nil {
		return domain.ErrUnauthorized
	}
	if auth.IsWildcard() || auth.Permissions.HasAll(required) {
		return nil
	}
	return domain.ErrForbidden
}

// AuthorizeTenant applies Authorize and then tenant isolation. A nil
// requestedTenantID means the caller is not targeting a specific tenant.
func AuthorizeTenant(auth *domain.AuthContext, required []string, scope TenantScope, requestedTenantID *string) error {
	if err := Authorize(auth, required); err != nil {
		return err
	}
	if auth.IsWildcard() {
		return nil
	}
	if scope == TenantScopeTenantOnly && auth.TenantID == nil {
		return domain.ErrForbidden
	}
	if requestedTenantID != nil && (auth.TenantID == nil || *auth.TenantID != *requestedTenantID) {
		return domain.ErrForbidden
	}
	return nil
}

// TenantFilter returns the tenant id a query must be restricted to. A nil
// result with a nil error means no restriction.
func TenantFilter(auth *domain.AuthContext, requested *string) (*string, error) {
	if auth == nil {
		return nil, domain.ErrUnauthorized
	}
	if auth.IsWildcard() {
		return requested, nil
	}
	if auth.TenantID == nil {
		return nil, domain.ErrForbidden
	}
	if requested != nil && *requested != *auth.TenantID {
		return nil, domain.ErrForbidden
	}
	own := *auth.TenantID
	return &own, nil
}
