// Package guard wraps privileged admin handlers in uniform read and
// mutation pipelines: environment policy, origin and CSRF checks,
// authorization, rate limiting and audit capture.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/access"
	"github.com/smallbiznis/admin-guard/internal/audit"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/permission"
	"github.com/smallbiznis/admin-guard/internal/reputation"
)

// Resolver turns an authenticated email into an AuthContext.
type Resolver interface {
	Resolve(ctx context.Context, email string) (*domain.AuthContext, error)
}

// EnvironmentChecker evaluates the environmental access policy.
type EnvironmentChecker interface {
	Check(ctx context.Context, ip string) access.Decision
}

// RateLimiter enforces fixed windows.
type RateLimiter interface {
	Enforce(ctx context.Context, tag, actorID string, max int, window time.Duration) error
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, p audit.Params) error
}

// EventSink receives security events raised by the pipeline.
type EventSink interface {
	LogEvent(ctx context.Context, ev reputation.Event) reputation.Outcome
}

// CSRFVerifier validates double-submit tokens.
type CSRFVerifier interface {
	Verify(r *http.Request) error
}

// Deps are the collaborators of a Guard. Resolver and CSRF are required;
// the rest are optional.
type Deps struct {
	Resolver    Resolver
	CSRF        CSRFVerifier
	Origin      *OriginChecker
	Environment EnvironmentChecker
	Limiter     RateLimiter
	Audit       Auditor
	Snapshots   *SnapshotRegistry
	Events      EventSink
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Guard builds guarded gin handlers.
type Guard struct {
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
}

// RequestContext is handed to business handlers.
type RequestContext struct {
	Auth       *domain.AuthContext
	RequestID  string
	TenantID   *string
	ResourceID string
	Before     any
}

// Result is a successful handler outcome. A zero Status means 200.
type Result struct {
	Status int
	Data   any
}

// Handler is a guarded business handler. Returning *domain.HandlerError
// emits a structured error without being treated as a failure.
type Handler func(c *gin.Context, rc *RequestContext) (Result, error)

// New constructs a Guard.
func New(deps Deps) (*Guard, error) {
	if deps.Resolver == nil {
		return nil, errors.New("guard: resolver is required")
	}
	if deps.CSRF == nil {
		return nil, errors.New("guard: csrf verifier is required")
	}
	if deps.Origin == nil {
		deps.Origin = NewOriginChecker("")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/smallbiznis/admin-guard/guard")
	}
	return &Guard{deps: deps, logger: logger, tracer: tracer}, nil
}

// Snapshots returns the registry used for before snapshots.
func (g *Guard) Snapshots() *SnapshotRegistry { return g.deps.Snapshots }

func (g *Guard) checkEnvironment(c *gin.Context) error {
	if g.deps.Environment == nil {
		return nil
	}
	decision := g.deps.Environment.Check(c.Request.Context(), c.ClientIP())
	if decision.Allowed {
		return nil
	}
	return &domain.AccessDeniedError{Reason: decision.Reason}
}

// authorize resolves the request identity fresh and applies permission
// and tenant checks.
func (g *Guard) authorize(c *gin.Context, perms []string, scope permission.TenantScope) (*domain.AuthContext, *string, error) {
	id, ok := IdentityFrom(c)
	if !ok {
		return nil, nil, domain.ErrUnauthorized
	}
	if id.Err != nil {
		return nil, nil, fmt.Errorf("validate session: %w", id.Err)
	}
	if id.SessionError != "" {
		return nil, nil, &domain.SessionError{Reason: id.SessionError}
	}
	if id.Email == "" {
		return nil, nil, domain.ErrUnauthorized
	}
	auth, err := g.deps.Resolver.Resolve(c.Request.Context(), id.Email)
	if err != nil {
		return nil, nil, err
	}
	if auth == nil {
		return nil, nil, domain.ErrUnauthorized
	}
	requested := requestedTenant(c)
	if err := permission.AuthorizeTenant(auth, perms, scope, requested); err != nil {
		g.report(c, auth, domain.EventAccessDenied, domain.SeverityMedium, map[string]any{"permissions": perms})
		return auth, requested, err
	}
	return auth, requested, nil
}

func (g *Guard) report(c *gin.Context, auth *domain.AuthContext, eventType string, sev domain.Severity, meta map[string]any) {
	if g.deps.Events == nil {
		return
	}
	ev := reputation.Event{
		EventType: eventType,
		Severity:  sev,
		Status:    domain.StatusFailure,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Metadata:  meta,
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	ev.Metadata["path"] = c.Request.URL.Path
	ev.Metadata["method"] = c.Request.Method
	if auth != nil {
		ev.UserID = auth.ID
		ev.Email = auth.Email
	}
	g.deps.Events.LogEvent(c.Request.Context(), ev)
}

// withRequestMetadata stores audit metadata and the actor on the request context.
func withRequestMetadata(c *gin.Context, requestID string, auth *domain.AuthContext) {
	ctx := audit.WithRequestMetadata(c.Request.Context(), audit.Metadata{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Origin:    c.GetHeader("Origin"),
		Referer:   c.GetHeader("Referer"),
		RequestID: requestID,
	})
	if auth != nil {
		ctx = audit.WithActor(ctx, auth.ID, auth.Email)
	}
	c.Request = c.Request.WithContext(ctx)
}

// invoke runs h, converting panics into errors.
func (g *Guard) invoke(c *gin.Context, rc *RequestContext, h Handler) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("guarded handler panic",
				zap.String("request_id", rc.RequestID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(c, rc)
}

func (g *Guard) fail(c *gin.Context, name string, err error) {
	apiErr := WriteError(c, g.logger, err)
	recordDecision(name, apiErr.Code)
}

func (g *Guard) respond(c *gin.Context, name, cacheControl string, res Result) {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Header(HeaderCacheControl, cacheControl)
	c.Header(HeaderRequestID, RequestID(c))
	recordDecision(name, "ok")
	if res.Data == nil && (status == http.StatusNoContent || status == http.StatusOK) {
		c.Status(status)
		return
	}
	c.JSON(status, res.Data)
}

func requestedTenant(c *gin.Context) *string {
	v := strings.TrimSpace(c.Query("tenantId"))
	if v == "" {
		return nil
	}
	return &v
}

func guardName(name string, c *gin.Context) string {
	if name != "" {
		return name
	}
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unnamed"
}
