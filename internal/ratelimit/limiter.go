// Package ratelimit enforces fixed-window limits keyed by operation and actor.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/obs"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const (
	DefaultMax    = 100
	DefaultWindow = 60 * time.Second
)

// Limiter applies fixed windows over a CounterStore.
type Limiter struct {
	store  repository.CounterStore
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Limiter.
func New(store repository.CounterStore, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the limiter clock.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Key builds the counter key for an operation tag and actor.
func Key(tag, actorID string) string {
	return tag + ":" + actorID
}

// Enforce counts one request for tag and actorID. It returns a
// *domain.RateLimitError once the window already holds max requests.
// Store failures let the request through.
func (l *Limiter) Enforce(ctx context.Context, tag, actorID string, max int, window time.Duration) error {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	now := l.now()
	key := Key(tag, actorID)
	counter, _, err := l.store.Hit(ctx, key, window, now)
	if err != nil {
		obs.RateLimitStoreError()
		l.logger.Warn("rate limit store unavailable, allowing request", zap.String("key", key), zap.Error(err))
		return nil
	}
	if counter.Count <= max {
		return nil
	}
	obs.RateLimitRejected(tag)
	retry := counter.ResetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return &domain.RateLimitError{Key: key, RetryAfter: retry}
}
