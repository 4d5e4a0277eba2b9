package guard

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallbiznis/admin-guard/internal/obs"
)

// Read wraps h in the read pipeline: optional environment check,
// authorization, handler, then uniform cache and request id headers.
func (g *Guard) Read(opts ReadOptions, h Handler) gin.HandlerFunc {
	cacheControl := cacheNoStore
	if opts.CacheTTL > 0 {
		cacheControl = fmt.Sprintf("max-age=%d, private", int(opts.CacheTTL.Seconds()))
	}

	return func(c *gin.Context) {
		name := guardName(opts.Name, c)
		requestID := RequestID(c)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderCacheControl, cacheNoStore)

		ctx, span := g.tracer.Start(c.Request.Context(), "guard.Read", trace.WithAttributes(
			attribute.String("guard.name", name),
			attribute.String("request.id", requestID),
		))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if opts.EnvironmentCheck {
			if err := g.checkEnvironment(c); err != nil {
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

		rc := &RequestContext{Auth: auth, RequestID: requestID, TenantID: tenant, ResourceID: c.Param("id")}
		start := time.Now()
		res, err := g.invoke(c, rc, h)
		obs.ObserveHandler(name, time.Since(start))
		if err != nil {
			span.RecordError(err)
			g.fail(c, name, err)
			return
		}
		g.respond(c, name, cacheControl, res)
	}
}
