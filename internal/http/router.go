package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/adapter/geo"
	"github.com/smallbiznis/admin-guard/internal/config"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/admin-guard/internal/http/middleware"
	"github.com/smallbiznis/admin-guard/internal/middleware"
	"github.com/smallbiznis/admin-guard/internal/obs"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	logger *zap.Logger,
	g *guard.Guard,
	sessions *httpmiddleware.Sessions,
	throttle *middleware.EdgeThrottle,
	authHandler *handler.AuthHandler,
	adminHandler *handler.AdminHandler,
) *gin.Engine {
	if logger == nil {
		logger = zap.L()
	}
	obs.Init()

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies; trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(obs.Instrument())
	r.Use(middleware.CORS(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	edge := []gin.HandlerFunc{
		throttle.Handler(),
		geo.Middleware(cfg.CountryHeader, cfg.TrustedProxies),
		g.Environment(),
	}

	authGroup := r.Group("/auth", edge...)
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/logout", sessions.Handler(), authHandler.Logout)
	}

	admin := r.Group("/admin", append(edge, sessions.Handler())...)
	admin.GET("/csrf", authHandler.CSRFToken)
	adminHandler.Register(admin, g)

	r.NoRoute(func(c *gin.Context) {
		guard.WriteError(c, logger, domain.ErrNotFound)
	})

	return r
}
