package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

const defaultListLimit = 100

// PostgresAuditRepo implements AuditLogStore and the security event and
// alert stores on the same pool.
type PostgresAuditRepo struct {
	db DB
}

var (
	_ AuditLogStore      = (*PostgresAuditRepo)(nil)
	_ SecurityEventStore = (*PostgresAuditRepo)(nil)
	_ AlertStore         = (*PostgresAuditRepo)(nil)
)

// NewPostgresAuditRepo constructs the audit repository.
func NewPostgresAuditRepo(db DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Insert appends an audit entry.
func (r *PostgresAuditRepo) Insert(ctx context.Context, e domain.AuditLogEntry) error {
	before, err := encodeJSON(e.Before)
	if err != nil {
		return err
	}
	after, err := encodeJSON(e.After)
	if err != nil {
		return err
	}
	var diff []byte
	if len(e.Diff) > 0 {
		if diff, err = encodeJSON(e.Diff); err != nil {
			return err
		}
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_logs (id, action, resource, resource_id, actor_id, actor_email, ip, user_agent, origin, referer, request_id, before, after, diff, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.Action, e.Resource, nullable(e.ResourceID), nullable(e.ActorID), nullable(e.ActorEmail),
		e.IP, e.UserAgent, nullable(e.Origin), nullable(e.Referer), nullable(e.RequestID),
		before, after, diff, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List returns matching audit entries, newest first.
func (r *PostgresAuditRepo) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("resource", f.Resource)
	add("resource_id", f.ResourceID)
	add("actor_id", f.ActorID)

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	sql := `SELECT id, action, resource, resource_id, actor_id, actor_email, ip, user_agent, origin, referer, request_id, before, after, diff, created_at FROM audit_logs`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLogEntry
	for rows.Next() {
		var (
			e                                                         domain.AuditLogEntry
			resourceID, actorID, actorEmail, origin, referer, request *string
			before, after, diff                                       []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Resource, &resourceID, &actorID, &actorEmail,
			&e.IP, &e.UserAgent, &origin, &referer, &request, &before, &after, &diff, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.ResourceID, e.ActorID, e.ActorEmail = deref(resourceID), deref(actorID), deref(actorEmail)
		e.Origin, e.Referer, e.RequestID = deref(origin), deref(referer), deref(request)
		if err := decodeJSON(before, &e.Before); err != nil {
			return nil, err
		}
		if err := decodeJSON(after, &e.After); err != nil {
			return nil, err
		}
		if err := decodeJSON(diff, &e.Diff); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

// InsertEvent persists a security event.
func (r *PostgresAuditRepo) InsertEvent(ctx context.Context, ev domain.SecurityEvent) error {
	meta, err := encodeJSON(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO security_events (id, created_at, event_type, severity, user_id, email, ip, user_agent, metadata, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.Timestamp, ev.EventType, string(ev.Severity), nullable(ev.UserID), nullable(ev.Email),
		ev.IP, nullable(ev.UserAgent), meta, string(ev.Status))
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// InsertAlert persists a security alert.
func (r *PostgresAuditRepo) InsertAlert(ctx context.Context, a domain.SecurityAlert) error {
	details, err := encodeJSON(a.Context)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO security_alerts (id, alert_type, message, severity, context, created_at, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.AlertType, a.Message, string(a.Severity), details, a.Timestamp, a.Resolved)
	if err != nil {
		return fmt.Errorf("insert security alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts, newest first.
func (r *PostgresAuditRepo) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.SecurityAlert, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, alert_type, message, severity, context, created_at, resolved FROM security_alerts
		 WHERE ($1 OR resolved = false) ORDER BY created_at DESC LIMIT $2`, f.IncludeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("list security alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.SecurityAlert
	for rows.Next() {
		var (
			a        domain.SecurityAlert
			severity string
			details  []byte
		)
		if err := rows.Scan(&a.ID, &a.AlertType, &a.Message, &severity, &details, &a.Timestamp, &a.Resolved); err != nil {
			return nil, fmt.Errorf("scan security alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		if err := decodeJSON(details, &a.Context); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security alerts: %w", err)
	}
	return out, nil
}
