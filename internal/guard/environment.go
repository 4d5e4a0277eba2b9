package guard

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// Environment rejects requests the environmental policy denies, ahead of any
// routing logic. Denials use the standard error envelope and are reported as
// ACCESS_DENIED events. Without an EnvironmentChecker it passes every request.
func (g *Guard) Environment() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := g.checkEnvironment(c)
		if err == nil {
			c.Next()
			return
		}
		meta := map[string]any{}
		var denied *domain.AccessDeniedError
		if errors.As(err, &denied) {
			meta["reason"] = denied.Reason
		}
		g.report(c, nil, domain.EventAccessDenied, domain.SeverityMedium, meta)
		WriteError(c, g.logger, err)
	}
}
