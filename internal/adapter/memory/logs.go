package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const defaultListLimit = 100

// AuditLogStore is an append-only in-memory audit log.
type AuditLogStore struct {
	mu      sync.RWMutex
	entries []domain.AuditLogEntry
	// FailWith, when set, is returned by Insert.
	FailWith error
}

var _ repository.AuditLogStore = (*AuditLogStore)(nil)

// NewAuditLogStore constructs an empty audit log.
func NewAuditLogStore() *AuditLogStore { return &AuditLogStore{} }

// Insert appends entry.
func (s *AuditLogStore) Insert(_ context.Context, entry domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.entries = append(s.entries, entry)
	return nil
}

// List returns matching entries, newest first.
func (s *AuditLogStore) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []domain.AuditLogEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if filter.Resource != "" && e.Resource != filter.Resource {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Entries returns a copy of every stored entry in insertion order.
func (s *AuditLogStore) Entries() []domain.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditLogEntry(nil), s.entries...)
}

// SecurityLog stores security events and alerts in memory.
type SecurityLog struct {
	mu     sync.RWMutex
	events []domain.SecurityEvent
	alerts []domain.SecurityAlert
}

var (
	_ repository.SecurityEventStore = (*SecurityLog)(nil)
	_ repository.AlertStore         = (*SecurityLog)(nil)
)

// NewSecurityLog constructs an empty security log.
func NewSecurityLog() *SecurityLog { return &SecurityLog{} }

// InsertEvent appends event.
func (s *SecurityLog) InsertEvent(_ context.Context, event domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// InsertAlert appends alert.
func (s *SecurityLog) InsertAlert(_ context.Context, alert domain.SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// ListAlerts returns alerts newest first.
func (s *SecurityLog) ListAlerts(_ context.Context, filter domain.AlertFilter) ([]domain.SecurityAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := make([]domain.SecurityAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if a.Resolved && !filter.IncludeResolved {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of the stored events.
func (s *SecurityLog) Events() []domain.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SecurityEvent(nil), s.events...)
}

// Alerts returns a copy of the stored alerts in insertion order.
func (s *SecurityLog) Alerts() []domain.SecurityAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SecurityAlert(nil), s.alerts...)
}
