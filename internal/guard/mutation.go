package guard

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallbiznis/admin-guard/internal/audit"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/obs"
)

// Mutation wraps h in the mutation pipeline. Steps run strictly in order
// and each short-circuits: origin, CSRF, authorization, rate limit, before
// snapshot, handler, after snapshot and audit, response headers.
func (g *Guard) Mutation(opts MutationOptions, h Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := guardName(opts.Name, c)
		requestID := RequestID(c)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderCacheControl, cacheNoStore)

		ctx, span := g.tracer.Start(c.Request.Context(), "guard.Mutation", trace.WithAttributes(
			attribute.String("guard.name", name),
			attribute.String("request.id", requestID),
			attribute.String("http.method", c.Request.Method),
		))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if opts.EnvironmentCheck {
			if err := g.checkEnvironment(c); err != nil {
				g.fail(c, name, err)
				return
			}
		}

		if err := g.deps.Origin.Check(c.Request); err != nil {
			g.report(c, nil, domain.EventCSRFViolation, domain.SeverityHigh, map[string]any{"check": "origin"})
			g.fail(c, name, err)
			return
		}

		if !opts.SkipCSRF {
			if err := g.deps.CSRF.Verify(c.Request); err != nil {
				g.report(c, nil, domain.EventCSRFViolation, domain.SeverityHigh, map[string]any{"check": "csrf"})
				g.fail(c, name, err)
				return
			}
		}

		auth, tenant, err := g.authorize(c, opts.Permissions, opts.TenantScope)
		if err != nil {
			g.fail(c, name, err)
			return
		}
		withRequestMetadata(c, requestID, auth)

		if opts.RateLimit != nil && g.deps.Limiter != nil {
			rl := opts.RateLimit
			if err := g.deps.Limiter.Enforce(c.Request.Context(), rl.Key, auth.ID, rl.Max, rl.Window); err != nil {
				var limitErr *domain.RateLimitError
				if errors.As(err, &limitErr) {
					g.report(c, auth, domain.EventRateLimited, domain.SeverityLow, map[string]any{"key": rl.Key})
				}
				g.fail(c, name, err)
				return
			}
		}

		rc := &RequestContext{Auth: auth, RequestID: requestID, TenantID: tenant}
		rc.ResourceID = resourceID(c)
		if opts.Audit != nil && opts.Audit.ResourceID != nil {
			rc.ResourceID = opts.Audit.ResourceID(c, rc)
		}

		audited := opts.Audit != nil && g.deps.Audit != nil
		if audited && rc.ResourceID != "" && capturesBefore(c.Request.Method) {
			rc.Before = g.deps.Snapshots.Lookup(c.Request.Context(), opts.Audit.Resource, rc.ResourceID)
		}

		start := time.Now()
		res, err := g.invoke(c, rc, h)
		obs.ObserveHandler(name, time.Since(start))
		if err != nil {
			span.RecordError(err)
			g.fail(c, name, err)
			return
		}

		if audited {
			var after any
			if capturesAfter(c.Request.Method) {
				after = res.Data
			}
			resourceID := rc.ResourceID
			if resourceID == "" {
				resourceID = payloadID(after)
			}
			err := g.deps.Audit.Record(c.Request.Context(), audit.Params{
				Action:     opts.Audit.Action,
				Resource:   opts.Audit.Resource,
				ResourceID: resourceID,
				Before:     rc.Before,
				After:      after,
				ActorID:    auth.ID,
				ActorEmail: auth.Email,
				FailClosed: opts.Audit.FailClosed,
			})
			if err != nil {
				span.RecordError(err)
				g.fail(c, name, err)
				return
			}
		}

		g.respond(c, name, cacheNoStore, res)
	}
}

func capturesBefore(method string) bool {
	switch method {
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func capturesAfter(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// resourceID takes the :id route parameter or, failing that, a last path
// segment that looks like an identifier.
func resourceID(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	path := strings.TrimRight(c.Request.URL.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	last := path[idx+1:]
	if len(last) > 5 && !strings.Contains(last, ".") {
		return last
	}
	return ""
}

func payloadID(data any) string {
	m, ok := audit.AsMap(data)
	if !ok {
		return ""
	}
	if id, ok := m["id"].(string); ok {
		return id
	}
	return ""
}
