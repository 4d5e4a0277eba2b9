// Package audit records immutable, redacted before/after trails of
// privileged mutations.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/obs"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

// Params describes one audited action.
type Params struct {
	Action     string
	Resource   string
	ResourceID string
	Before     any
	After      any
	ActorID    string
	ActorEmail string
	FailClosed bool
}

// Writer persists audit entries.
type Writer struct {
	store  repository.AuditLogStore
	node   *snowflake.Node
	actors ActorSource
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewWriter constructs a Writer using ContextActor as the actor fallback.
func NewWriter(store repository.AuditLogStore, node *snowflake.Node, logger *zap.Logger, tracer trace.Tracer) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/smallbiznis/admin-guard/audit")
	}
	return &Writer{store: store, node: node, actors: ContextActor, logger: logger, tracer: tracer, now: time.Now}
}

// WithActorSource replaces the actor fallback.
func (w *Writer) WithActorSource(src ActorSource) *Writer {
	w.actors = src
	return w
}

// WithClock overrides the timestamp clock.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Record redacts, diffs and persists one entry. Persistence failures are
// logged and swallowed unless p.FailClosed is set.
func (w *Writer) Record(ctx context.Context, p Params) error {
	ctx, span := w.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("audit.resource", p.Resource),
		attribute.String("audit.action", p.Action),
	))
	defer span.End()

	entry := w.build(ctx, p)

	if err := w.store.Insert(ctx, entry); err != nil {
		obs.AuditWriteFailed(p.FailClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit insert failed")
		w.logger.Error("audit write failed",
			zap.String("resource", p.Resource),
			zap.String("action", p.Action),
			zap.String("resource_id", p.ResourceID),
			zap.String("request_id", entry.RequestID),
			zap.Bool("fail_closed", p.FailClosed),
			zap.Error(err),
		)
		if p.FailClosed {
			return fmt.Errorf("%w: %v", domain.ErrAuditWriteFailed, err)
		}
	}
	return nil
}

// List returns stored entries matching filter.
func (w *Writer) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	out, err := w.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return out, nil
}

func (w *Writer) build(ctx context.Context, p Params) domain.AuditLogEntry {
	actorID, actorEmail := p.ActorID, p.ActorEmail
	if (actorID == "" || actorEmail == "") && w.actors != nil {
		id, email, err := w.actors(ctx)
		if err != nil {
			w.logger.Debug("audit actor lookup failed", zap.Error(err))
		} else {
			if actorID == "" {
				actorID = id
			}
			if actorEmail == "" {
				actorEmail = email
			}
		}
	}

	md := MetadataFrom(ctx)
	entry := domain.AuditLogEntry{
		Action:     p.Action,
		Resource:   p.Resource,
		ResourceID: p.ResourceID,
		ActorID:    actorID,
		ActorEmail: actorEmail,
		IP:         md.IP,
		UserAgent:  md.UserAgent,
		Origin:     md.Origin,
		Referer:    md.Referer,
		RequestID:  md.RequestID,
		Timestamp:  w.now().UTC(),
	}
	if w.node != nil {
		entry.ID = w.node.Generate().String()
	}

	var before, after map[string]any
	if p.Before != nil {
		entry.Before = Redact(p.Before)
		before, _ = entry.Before.(map[string]any)
	}
	if p.After != nil {
		entry.After = Redact(p.After)
		after, _ = entry.After.(map[string]any)
	}
	entry.Diff = Diff(before, after)
	return entry
}
