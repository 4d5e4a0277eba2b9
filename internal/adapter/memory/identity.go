package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

// IdentityStore is an in-memory identity store.
type IdentityStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	roles       map[string]domain.Role
	assignments map[string][]string
	grants      map[string][]domain.JitAccessRequest
}

var _ repository.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore constructs an empty identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		users:       make(map[string]domain.User),
		roles:       make(map[string]domain.Role),
		assignments: make(map[string][]string),
		grants:      make(map[string][]domain.JitAccessRequest),
	}
}

// GetIdentityByEmail returns the live user for email with roles and approved grants.
func (s *IdentityStore) GetIdentityByEmail(_ context.Context, email string) (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if strings.ToLower(u.Email) != email || !u.Live() {
			continue
		}
		identity := domain.Identity{User: u}
		for _, roleID := range s.assignments[u.ID] {
			if role, ok := s.roles[roleID]; ok {
				identity.Roles = append(identity.Roles, role)
			}
		}
		for _, g := range s.grants[u.ID] {
			if g.Status == domain.JitApproved {
				identity.JitGrants = append(identity.JitGrants, g)
			}
		}
		return identity, nil
	}
	return domain.Identity{}, domain.ErrNotFound
}

// GetUserByID returns the user regardless of deletion state.
func (s *IdentityStore) GetUserByID(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// RolesByIDs returns the known roles among roleIDs.
func (s *IdentityStore) RolesByIDs(_ context.Context, roleIDs []string) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Role
	for _, id := range roleIDs {
		if role, ok := s.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

// CreateUser stores user.
func (s *IdentityStore) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return user, nil
}

// UpdatePasswordHash replaces the hash of a live user.
func (s *IdentityStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || !u.Live() {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	s.users[userID] = u
	return nil
}

// UpsertRole stores role, replacing the permissions of an existing role
// with the same name.
func (s *IdentityStore) UpsertRole(_ context.Context, role domain.Role) (domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.roles {
		if existing.Name == role.Name && role.Name != "" {
			role.ID = id
			break
		}
	}
	s.roles[role.ID] = role
	return role, nil
}

// AssignRole attaches roleID to userID once.
func (s *IdentityStore) AssignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments[userID] {
		if existing == roleID {
			return nil
		}
	}
	s.assignments[userID] = append(s.assignments[userID], roleID)
	return nil
}

// AddJitGrant records a JIT access request.
func (s *IdentityStore) AddJitGrant(grant domain.JitAccessRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.UserID] = append(s.grants[grant.UserID], grant)
}
