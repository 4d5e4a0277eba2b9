package domain

import "time"

// Change is one field-level difference between two snapshots.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AuditLogEntry is an immutable record of a privileged mutation.
type AuditLogEntry struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	ResourceID string            `json:"resourceId,omitempty"`
	ActorID    string            `json:"actorId,omitempty"`
	ActorEmail string            `json:"actorEmail,omitempty"`
	IP         string            `json:"ip"`
	UserAgent  string            `json:"userAgent"`
	Origin     string            `json:"origin,omitempty"`
	Referer    string            `json:"referer,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
	Before     any               `json:"before,omitempty"`
	After      any               `json:"after,omitempty"`
	Diff       map[string]Change `json:"diff,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	Resource   string
	ResourceID string
	ActorID    string
	Limit      int
}
