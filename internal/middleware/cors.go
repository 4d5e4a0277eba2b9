package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/admin-guard/internal/config"
)

const exposedHeaders = "X-Request-Id, Retry-After"

// CORS applies the configured cross-origin policy. With no allowed origins
// the admin surface stays same-origin and the middleware is a no-op.
//
// A "*" entry only takes effect without credentials: credentialed requests
// are answered for explicitly listed origins.
func CORS(cfg config.Config) gin.HandlerFunc {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	allowed, wildcard := originSet(cfg.CORSAllowedOrigins)
	wildcard = wildcard && !cfg.CORSAllowCredentials
	methods := strings.Join(cfg.CORSAllowedMethods, ", ")
	headers := strings.Join(cfg.CORSAllowedHeaders, ", ")
	maxAge := ""
	if cfg.CORSMaxAge > 0 {
		maxAge = strconv.Itoa(int(cfg.CORSMaxAge.Seconds()))
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		header := c.Writer.Header()
		header.Add("Vary", "Origin")

		_, listed := allowed[normalizeCORSOrigin(origin)]
		if !listed && !wildcard {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		if wildcard && !listed {
			header.Set("Access-Control-Allow-Origin", "*")
		} else {
			header.Set("Access-Control-Allow-Origin", origin)
		}
		if cfg.CORSAllowCredentials {
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		header.Set("Access-Control-Expose-Headers", exposedHeaders)

		if preflight {
			header.Set("Access-Control-Allow-Methods", methods)
			header.Set("Access-Control-Allow-Headers", headers)
			if maxAge != "" {
				header.Set("Access-Control-Max-Age", maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originSet(origins []string) (map[string]struct{}, bool) {
	set := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
			continue
		}
		if o = normalizeCORSOrigin(o); o != "" {
			set[o] = struct{}{}
		}
	}
	return set, wildcard
}

func normalizeCORSOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
