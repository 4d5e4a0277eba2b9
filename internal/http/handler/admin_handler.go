package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/admin-guard/internal/audit"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/reputation"
	"github.com/smallbiznis/admin-guard/internal/session"
)

// Admin permissions.
const (
	PermSessionsRead   = "sessions:read"
	PermSessionsRevoke = "sessions:revoke"
	PermAuditRead      = "audit:read"
	PermSecurityRead   = "security:read"
)

const (
	resourceSession = "session"
	maxListLimit    = 500
)

// AdminHandler serves the guarded admin console endpoints.
type AdminHandler struct {
	Sessions   *session.Manager
	Audit      *audit.Writer
	Reputation *reputation.Engine
}

// Register mounts the admin routes on rg behind g.
func (h *AdminHandler) Register(rg *gin.RouterGroup, g *guard.Guard) {
	if reg := g.Snapshots(); reg != nil {
		reg.Register(resourceSession, guard.FinderFunc(func(ctx context.Context, id string) (any, error) {
			sess, err := h.Sessions.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return sess, nil
		}))
	}

	sessions := rg.Group("/sessions")
	sessions.GET("", g.Read(guard.ReadOptions{
		Name:        "sessions.list",
		Permissions: []string{PermSessionsRead},
	}, h.ListSessions))
	sessions.DELETE("/:id", g.Mutation(guard.MutationOptions{
		Name:        "sessions.revoke",
		Permissions: []string{PermSessionsRevoke},
		RateLimit:   &guard.RateLimit{Key: "sessions.revoke", Max: 20, Window: time.Minute},
		Audit:       &guard.AuditOptions{Resource: resourceSession, Action: "revoke"},
	}, h.RevokeSession))
	sessions.POST("/revoke-all", g.Mutation(guard.MutationOptions{
		Name:        "sessions.revoke_all",
		Permissions: []string{PermSessionsRevoke},
		RateLimit:   &guard.RateLimit{Key: "sessions.revoke_all", Max: 5, Window: time.Minute},
		Audit: &guard.AuditOptions{
			Resource: resourceSession,
			Action:   "revoke_all",
			ResourceID: func(_ *gin.Context, rc *guard.RequestContext) string {
				return rc.Auth.ID
			},
		},
	}, h.RevokeAllSessions))

	rg.GET("/audit-logs", g.Read(guard.ReadOptions{
		Name:        "audit.list",
		Permissions: []string{PermAuditRead},
	}, h.ListAuditLogs))

	security := rg.Group("/security")
	security.GET("/alerts", g.Read(guard.ReadOptions{
		Name:        "security.alerts",
		Permissions: []string{PermSecurityRead},
	}, h.ListAlerts))
	security.GET("/reputation/:ip", g.Read(guard.ReadOptions{
		Name:        "security.reputation",
		Permissions: []string{PermSecurityRead},
		CacheTTL:    30 * time.Second,
	}, h.GetReputation))
}

// ListSessions returns the caller's active sessions.
func (h *AdminHandler) ListSessions(c *gin.Context, rc *guard.RequestContext) (guard.Result, error) {
	out, err := h.Sessions.ListActive(c.Request.Context(), rc.Auth.ID)
	if err != nil {
		return guard.Result{}, err
	}
	if out == nil {
		out = []domain.Session{}
	}
	active, err := h.Sessions.CountActive(c.Request.Context(), rc.Auth.ID)
	if err != nil {
		return guard.Result{}, err
	}
	return guard.Result{Data: gin.H{
		"sessions":      out,
		"activeCount":   active,
		"maxConcurrent": h.Sessions.Config().MaxConcurrent,
	}}, nil
}

// RevokeSession revokes one of the caller's sessions.
func (h *AdminHandler) RevokeSession(c *gin.Context, rc *guard.RequestContext) (guard.Result, error) {
	changed, err := h.Sessions.RevokeByID(c.Request.Context(), rc.Auth.ID, rc.ResourceID, domain.RevokeReasonUser)
	if err != nil {
		return guard.Result{}, err
	}
	if !changed {
		return guard.Result{}, domain.NewHandlerError(http.StatusNotFound, guard.CodeNotFound, "session not found")
	}
	h.sessionRevoked(c, rc, map[string]any{"sessionId": rc.ResourceID})
	return guard.Result{Data: gin.H{"id": rc.ResourceID, "revoked": true}}, nil
}

// RevokeAllSessions revokes every open session of the caller.
func (h *AdminHandler) RevokeAllSessions(c *gin.Context, rc *guard.RequestContext) (guard.Result, error) {
	n, err := h.Sessions.RevokeAll(c.Request.Context(), rc.Auth.ID, domain.RevokeReasonUserAll)
	if err != nil {
		return guard.Result{}, err
	}
	h.sessionRevoked(c, rc, map[string]any{"count": n, "all": true})
	return guard.Result{Data: gin.H{"id": rc.Auth.ID, "revoked": n}}, nil
}

// ListAuditLogs lists audit entries filtered by resource and actor.
func (h *AdminHandler) ListAuditLogs(c *gin.Context, _ *guard.RequestContext) (guard.Result, error) {
	limit, err := parseLimit(c)
	if err != nil {
		return guard.Result{}, err
	}
	entries, err := h.Audit.List(c.Request.Context(), domain.AuditFilter{
		Resource:   c.Query("resource"),
		ResourceID: c.Query("resourceId"),
		ActorID:    c.Query("actorId"),
		Limit:      limit,
	})
	if err != nil {
		return guard.Result{}, err
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	return guard.Result{Data: gin.H{"auditLogs": entries}}, nil
}

// ListAlerts lists security alerts, unresolved only unless includeResolved=true.
func (h *AdminHandler) ListAlerts(c *gin.Context, _ *guard.RequestContext) (guard.Result, error) {
	limit, err := parseLimit(c)
	if err != nil {
		return guard.Result{}, err
	}
	includeResolved, _ := strconv.ParseBool(c.DefaultQuery("includeResolved", "false"))
	alerts, err := h.Reputation.ListAlerts(c.Request.Context(), domain.AlertFilter{IncludeResolved: includeResolved, Limit: limit})
	if err != nil {
		return guard.Result{}, err
	}
	if alerts == nil {
		alerts = []domain.SecurityAlert{}
	}
	return guard.Result{Data: gin.H{"alerts": alerts}}, nil
}

// GetReputation returns the reputation record for the :ip parameter.
func (h *AdminHandler) GetReputation(c *gin.Context, _ *guard.RequestContext) (guard.Result, error) {
	rep, err := h.Reputation.Reputation(c.Request.Context(), c.Param("ip"))
	if err != nil {
		return guard.Result{}, err
	}
	if rep == nil {
		return guard.Result{}, domain.NewHandlerError(http.StatusNotFound, guard.CodeNotFound, "no reputation recorded for ip")
	}
	return guard.Result{Data: rep}, nil
}

func (h *AdminHandler) sessionRevoked(c *gin.Context, rc *guard.RequestContext, meta map[string]any) {
	if h.Reputation == nil {
		return
	}
	h.Reputation.LogEvent(c.Request.Context(), reputation.Event{
		EventType: domain.EventSessionRevoked,
		Severity:  domain.SeverityLow,
		Status:    domain.StatusSuccess,
		IP:        c.ClientIP(),
		UserID:    rc.Auth.ID,
		Email:     rc.Auth.Email,
		UserAgent: c.Request.UserAgent(),
		Metadata:  meta,
	})
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, domain.NewHandlerError(http.StatusBadRequest, guard.CodeBadRequest, "limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
