package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/access"
	cacheadapter "github.com/smallbiznis/admin-guard/internal/adapter/cache"
	"github.com/smallbiznis/admin-guard/internal/adapter/geo"
	"github.com/smallbiznis/admin-guard/internal/adapter/memory"
	"github.com/smallbiznis/admin-guard/internal/adapter/notify"
	"github.com/smallbiznis/admin-guard/internal/audit"
	"github.com/smallbiznis/admin-guard/internal/bootstrap"
	"github.com/smallbiznis/admin-guard/internal/config"
	"github.com/smallbiznis/admin-guard/internal/csrf"
	"github.com/smallbiznis/admin-guard/internal/guard"
	httptransport "github.com/smallbiznis/admin-guard/internal/http"
	"github.com/smallbiznis/admin-guard/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/admin-guard/internal/http/middleware"
	apimiddleware "github.com/smallbiznis/admin-guard/internal/middleware"
	"github.com/smallbiznis/admin-guard/internal/password"
	"github.com/smallbiznis/admin-guard/internal/permission"
	"github.com/smallbiznis/admin-guard/internal/ratelimit"
	"github.com/smallbiznis/admin-guard/internal/repository"
	"github.com/smallbiznis/admin-guard/internal/reputation"
	"github.com/smallbiznis/admin-guard/internal/server"
	"github.com/smallbiznis/admin-guard/internal/session"
	"github.com/smallbiznis/admin-guard/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newRedisClient,
			newStores,
			newReputationStore,
			newNotifier,
			newResolver,
			newSessionManager,
			newAccessChecker,
			newRateLimiter,
			newAuditWriter,
			newReputationEngine,
			newCSRF,
			newGuard,
			newSessionMiddleware,
			newEdgeThrottle,
			newAuthHandler,
			newAdminHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(bootstrap.EnsureAdmin, startSessionSweeper, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", cfg.ServiceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	logger.Info("telemetry initialized", zap.Bool("tracing_enabled", provider.Enabled()))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

// newRedisClient returns nil when REDIS_ADDR is unset.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

type stores struct {
	fx.Out

	Identities repository.IdentityStore
	Sessions   repository.SessionStore
	Audit      repository.AuditLogStore
	Events     repository.SecurityEventStore
	Alerts     repository.AlertStore
	Counters   repository.CounterStore
}

func newStores(lc fx.Lifecycle, cfg config.Config, client redis.UniversalClient, logger *zap.Logger) (stores, error) {
	var out stores
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory stores; state is lost on restart")
		securityLog := memory.NewSecurityLog()
		out = stores{
			Identities: memory.NewIdentityStore(),
			Sessions:   memory.NewSessionStore(),
			Audit:      memory.NewAuditLogStore(),
			Events:     securityLog,
			Alerts:     securityLog,
			Counters:   memory.NewCounterStore(),
		}
	default:
		pool, err := newPGXPool(lc, cfg)
		if err != nil {
			return stores{}, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := repository.Migrate(ctx, pool); err != nil {
			return stores{}, err
		}
		auditRepo := repository.NewPostgresAuditRepo(pool)
		out = stores{
			Identities: repository.NewPostgresIdentityRepo(pool, logger),
			Sessions:   repository.NewPostgresSessionRepo(pool),
			Audit:      auditRepo,
			Events:     auditRepo,
			Alerts:     auditRepo,
			Counters:   repository.NewPostgresCounterRepo(pool),
		}
	}
	if client != nil {
		out.Counters = cacheadapter.NewRedisCounterStore(client)
	}
	return out, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newReputationStore(client redis.UniversalClient) repository.ReputationStore {
	if client != nil {
		return cacheadapter.NewRedisReputationStore(client)
	}
	return memory.NewReputationStore(nil)
}

func newNotifier(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (reputation.Notifier, error) {
	notifiers := notify.Multi{&notify.LogNotifier{Logger: logger}}

	if cfg.SMTPHost != "" && len(cfg.AlertAdminEmails) > 0 {
		mailer, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			To:       cfg.AlertAdminEmails,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp notifier: %w", err)
		}
		notifiers = append(notifiers, mailer)
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka notifier: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return publisher.Close()
			},
		})
		notifiers = append(notifiers, publisher)
	}

	return notifiers, nil
}

func newResolver(identities repository.IdentityStore, logger *zap.Logger) *permission.Resolver {
	return permission.NewResolver(identities, logger)
}

func newSessionManager(cfg config.Config, sessions repository.SessionStore, node *snowflake.Node, logger *zap.Logger) *session.Manager {
	return session.NewManager(sessions, node, session.Config{
		MaxConcurrent: cfg.SessionMaxConcurrent,
		AbsoluteTTL:   cfg.SessionAbsoluteTTL,
		InactivityTTL: cfg.SessionInactivityTTL,
	}, logger)
}

func newAccessChecker(cfg config.Config, logger *zap.Logger) *access.Checker {
	return access.NewChecker(cfg.AccessPolicy(logger), geo.HeaderLookup{}, logger)
}

func newRateLimiter(counters repository.CounterStore, logger *zap.Logger) *ratelimit.Limiter {
	return ratelimit.New(counters, logger)
}

func newAuditWriter(store repository.AuditLogStore, node *snowflake.Node, logger *zap.Logger, tp *telemetry.Provider) *audit.Writer {
	return audit.NewWriter(store, node, logger, tp.Tracer())
}

func newReputationEngine(
	cfg config.Config,
	events repository.SecurityEventStore,
	alerts repository.AlertStore,
	reputations repository.ReputationStore,
	notifier reputation.Notifier,
	node *snowflake.Node,
	logger *zap.Logger,
	tp *telemetry.Provider,
) *reputation.Engine {
	return reputation.NewEngine(reputation.Deps{
		Events:      events,
		Alerts:      alerts,
		Reputations: reputations,
		Notifier:    notifier,
		Node:        node,
		Logger:      logger,
		Tracer:      tp.Tracer(),
	}, reputation.Thresholds{
		FailedLoginAttempts:     cfg.FailedLoginThreshold,
		SuspiciousActivityScore: int(cfg.SuspiciousScore),
		BruteForceAttempts:      cfg.BruteForceThreshold,
	})
}

func newCSRF(cfg config.Config) *csrf.Protector {
	return csrf.New(cfg.CSRFSecret, cfg.CSRFCookieSecure)
}

func newGuard(
	cfg config.Config,
	resolver *permission.Resolver,
	checker *access.Checker,
	protector *csrf.Protector,
	limiter *ratelimit.Limiter,
	writer *audit.Writer,
	engine *reputation.Engine,
	logger *zap.Logger,
	tp *telemetry.Provider,
) (*guard.Guard, error) {
	return guard.New(guard.Deps{
		Resolver:    resolver,
		CSRF:        protector,
		Origin:      guard.NewOriginChecker(cfg.PublicOrigin),
		Environment: checker,
		Limiter:     limiter,
		Audit:       writer,
		Snapshots:   guard.NewSnapshotRegistry(logger),
		Events:      engine,
		Logger:      logger,
		Tracer:      tp.Tracer(),
	})
}

func newSessionMiddleware(cfg config.Config, manager *session.Manager, identities repository.IdentityStore, logger *zap.Logger) *httpmiddleware.Sessions {
	return &httpmiddleware.Sessions{
		Manager:    manager,
		Identities: identities,
		CookieName: cfg.SessionCookieName,
		Logger:     logger,
	}
}

func newEdgeThrottle(cfg config.Config, logger *zap.Logger) *apimiddleware.EdgeThrottle {
	return apimiddleware.NewEdgeThrottle(cfg.EdgeRateLimitRPM, logger)
}

func newAuthHandler(
	cfg config.Config,
	identities repository.IdentityStore,
	manager *session.Manager,
	engine *reputation.Engine,
	limiter *ratelimit.Limiter,
	protector *csrf.Protector,
	logger *zap.Logger,
) *handler.AuthHandler {
	return &handler.AuthHandler{
		Identities:   identities,
		Sessions:     manager,
		Events:       engine,
		Limiter:      limiter,
		CSRF:         protector,
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.CSRFCookieSecure,
		HashParams:   password.DefaultParams,
		Logger:       logger,
	}
}

func newAdminHandler(manager *session.Manager, writer *audit.Writer, engine *reputation.Engine) *handler.AdminHandler {
	return &handler.AdminHandler{Sessions: manager, Audit: writer, Reputation: engine}
}

func startSessionSweeper(lc fx.Lifecycle, cfg config.Config, manager *session.Manager, logger *zap.Logger) {
	bootstrap.StartSessionSweeper(lc, cfg, manager, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				logger.Info("admin guard listening", zap.String("addr", addr))
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
