package middleware

import (
	"math"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/obs"
)

const edgeThrottleKey = "edge"

// EdgeThrottle is a coarse per-client token bucket applied ahead of routing.
// Per-operation limits live in the guard pipeline.
type EdgeThrottle struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewEdgeThrottle creates a limiter for the requests-per-minute budget.
// A non-positive budget disables throttling.
func NewEdgeThrottle(requestsPerMinute int, logger *zap.Logger) *EdgeThrottle {
	if requestsPerMinute <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &EdgeThrottle{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		idle:    5 * time.Minute,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// WithClock replaces the time source.
func (t *EdgeThrottle) WithClock(now func() time.Time) *EdgeThrottle {
	t.now = now
	return t
}

// Handler returns the gin middleware.
func (t *EdgeThrottle) Handler() gin.HandlerFunc {
	if t == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		now := t.now()
		res := t.limiterFor(c.ClientIP(), now).ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			obs.RateLimitRejected(edgeThrottleKey)
			guard.WriteError(c, t.logger, &domain.RateLimitError{
				Key:        edgeThrottleKey,
				RetryAfter: time.Duration(math.Ceil(delay.Seconds())) * time.Second,
			})
			return
		}
		c.Next()
	}
}

func (t *EdgeThrottle) limiterFor(key string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(t.limit, t.burst)
	t.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	t.cleanupLocked(now)
	obs.EdgeClients(len(t.clients))
	return limiter
}

func (t *EdgeThrottle) cleanupLocked(now time.Time) {
	for key, entry := range t.clients {
		if now.Sub(entry.lastSeen) > t.idle {
			delete(t.clients, key)
		}
	}
}
