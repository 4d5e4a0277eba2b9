package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

// SessionStore is an in-memory session store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

var _ repository.SessionStore = (*SessionStore)(nil)

// NewSessionStore constructs an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.Session)}
}

// CreateWithEviction evicts the least recently active sessions and inserts s under one lock.
func (s *SessionStore) CreateWithEviction(_ context.Context, sess domain.Session, max int, now time.Time) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*domain.Session
	for _, existing := range s.sessions {
		if existing.UserID == sess.UserID && existing.Active(now) {
			active = append(active, existing)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActiveAt.Before(active[j].LastActiveAt)
	})

	var evicted []domain.Session
	for i := 0; max > 0 && len(active)-i >= max; i++ {
		revoke(active[i], domain.RevokeReasonMaxSessions, now)
		evicted = append(evicted, *active[i])
	}

	stored := sess
	s.sessions[sess.ID] = &stored
	return evicted, nil
}

// GetByToken looks a session up by its bearer token.
func (s *SessionStore) GetByToken(_ context.Context, token string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.byToken(token); sess != nil {
		return *sess, nil
	}
	return domain.Session{}, domain.ErrNotFound
}

// GetByID looks a session up by id.
func (s *SessionStore) GetByID(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return *sess, nil
}

// Touch refreshes lastActiveAt on a non-revoked session.
func (s *SessionStore) Touch(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.byToken(token); sess != nil && !sess.IsRevoked {
		sess.LastActiveAt = at
	}
	return nil
}

// Revoke marks the session with token revoked.
func (s *SessionStore) Revoke(_ context.Context, token, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.byToken(token)
	if sess == nil || sess.IsRevoked {
		return false, nil
	}
	revoke(sess, reason, at)
	return true, nil
}

// RevokeByID revokes a session owned by userID.
func (s *SessionStore) RevokeByID(_ context.Context, userID, sessionID, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID || sess.IsRevoked {
		return false, nil
	}
	revoke(sess, reason, at)
	return true, nil
}

// RevokeAllForUser revokes every non-revoked session of userID.
func (s *SessionStore) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.IsRevoked {
			revoke(sess, reason, at)
			n++
		}
	}
	return n, nil
}

// ListActive returns active sessions of userID, most recently active first.
func (s *SessionStore) ListActive(_ context.Context, userID string, now time.Time) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active(now) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

// RevokeExpired marks expired, non-revoked sessions revoked.
func (s *SessionStore) RevokeExpired(_ context.Context, reason string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.IsRevoked && !sess.ExpiresAt.After(now) {
			revoke(sess, reason, now)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) byToken(token string) *domain.Session {
	for _, sess := range s.sessions {
		if sess.Token == token {
			return sess
		}
	}
	return nil
}

func revoke(sess *domain.Session, reason string, at time.Time) {
	sess.IsRevoked = true
	revokedAt := at
	sess.RevokedAt = &revokedAt
	sess.RevokedReason = reason
}
