package guard

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/admin-guard/internal/permission"
)

// ReadOptions configure a read guard.
type ReadOptions struct {
	// Name labels metrics and spans; defaults to the route path.
	Name             string
	Permissions      []string
	TenantScope      permission.TenantScope
	EnvironmentCheck bool
	// CacheTTL > 0 allows private caching for that long.
	CacheTTL time.Duration
}

// MutationOptions configure a mutation guard.
type MutationOptions struct {
	Name             string
	Permissions      []string
	TenantScope      permission.TenantScope
	EnvironmentCheck bool
	// SkipCSRF is reserved for non-browser integrations such as webhooks.
	SkipCSRF  bool
	RateLimit *RateLimit
	Audit     *AuditOptions
}

// RateLimit keys a fixed window by Key and the acting user.
type RateLimit struct {
	Key    string
	Max    int
	Window time.Duration
}

// AuditOptions enable audit capture for a mutation.
type AuditOptions struct {
	Resource   string
	Action     string
	FailClosed bool
	// ResourceID overrides the route parameter and path heuristics.
	ResourceID func(c *gin.Context, rc *RequestContext) string
}
