package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

// CounterStore keeps fixed-window counters in memory.
type CounterStore struct {
	mu       sync.Mutex
	counters map[string]domain.RateLimitCounter
}

var _ repository.CounterStore = (*CounterStore)(nil)

// NewCounterStore constructs an empty counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{counters: make(map[string]domain.RateLimitCounter)}
}

// Hit increments key, resetting the window lazily once it has elapsed.
func (s *CounterStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (domain.RateLimitCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || !c.ResetAt.After(now) {
		c = domain.RateLimitCounter{Key: key, Count: 1, ResetAt: now.Add(window)}
		s.counters[key] = c
		return c, true, nil
	}
	c.Count++
	s.counters[key] = c
	return c, false, nil
}

// ReputationStore keeps reputation records in memory with expiry.
type ReputationStore struct {
	mu      sync.Mutex
	records map[string]reputationEntry
	now     func() time.Time
}

type reputationEntry struct {
	rep       domain.IPReputation
	expiresAt time.Time
}

var _ repository.ReputationStore = (*ReputationStore)(nil)

// NewReputationStore constructs an empty reputation store. A nil clock uses time.Now.
func NewReputationStore(now func() time.Time) *ReputationStore {
	if now == nil {
		now = time.Now
	}
	return &ReputationStore{records: make(map[string]reputationEntry), now: now}
}

// Get returns the unexpired record for ip or nil.
func (s *ReputationStore) Get(_ context.Context, ip string) (*domain.IPReputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[ip]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.After(s.now()) {
		delete(s.records, ip)
		return nil, nil
	}
	rep := entry.rep
	return &rep, nil
}

// Put stores rep with the given retention.
func (s *ReputationStore) Put(_ context.Context, rep domain.IPReputation, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rep.IP] = reputationEntry{rep: rep, expiresAt: s.now().Add(ttl)}
	return nil
}
