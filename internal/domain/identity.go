package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// WildcardPermission satisfies every permission check.
const WildcardPermission = "*"

// StringSet is an unordered set of strings used for roles and permissions.
type StringSet map[string]struct{}

// NewStringSet builds a set from the provided values, skipping blanks.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	s.Add(values...)
	return s
}

// Add inserts values into the set.
func (s StringSet) Add(values ...string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		s[v] = struct{}{}
	}
}

// Union returns a new set holding members of both sets.
func (s StringSet) Union(other StringSet) StringSet {
	out := make(StringSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Has reports membership.
func (s StringSet) Has(value string) bool {
	_, ok := s[value]
	return ok
}

// HasAll reports whether every value is a member.
func (s StringSet) HasAll(values []string) bool {
	for _, v := range values {
		if !s.Has(v) {
			return false
		}
	}
	return true
}

// Slice returns the members sorted.
func (s StringSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array into the set.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}

// User is an admin console account as returned by the identity store.
type User struct {
	ID           string
	Email        string
	Name         string
	TenantID     *string
	PasswordHash string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// Live reports whether the account has not been soft-deleted.
func (u User) Live() bool {
	return u.ID != "" && u.DeletedAt == nil
}

// Role groups permissions and is referenced by assignments and JIT grants.
type Role struct {
	ID          string
	Name        string
	Permissions []string
}

// EncodePermissions serializes a permission list for storage.
func EncodePermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("encode permissions: %w", err)
	}
	return string(raw), nil
}

// DecodePermissions parses the stored permission list.
func DecodePermissions(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return perms, nil
}

// JitStatus enumerates the lifecycle of a just-in-time access request.
type JitStatus string

const (
	JitPending  JitStatus = "pending"
	JitApproved JitStatus = "approved"
	JitDenied   JitStatus = "denied"
	JitExpired  JitStatus = "expired"
)

// JitAccessRequest is a time-boxed, approval-gated role grant.
type JitAccessRequest struct {
	ID        string
	UserID    string
	RoleID    string
	Status    JitStatus
	ExpiresAt time.Time
}

// Active reports whether the grant contributes permissions at now.
func (j JitAccessRequest) Active(now time.Time) bool {
	return j.Status == JitApproved && j.ExpiresAt.After(now)
}

// Identity bundles a user with its role assignments and JIT grants.
type Identity struct {
	User      User
	Roles     []Role
	JitGrants []JitAccessRequest
}

// AuthContext is the per-request authorization view of an identity. It is
// derived on every request and never persisted.
type AuthContext struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Roles       StringSet `json:"roles"`
	Permissions StringSet `json:"permissions"`
	TenantID    *string   `json:"tenantId"`
}

// IsWildcard reports whether the context holds the global wildcard.
func (a *AuthContext) IsWildcard() bool {
	return a != nil && a.Permissions.Has(WildcardPermission)
}
