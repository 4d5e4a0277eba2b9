package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/config"
)

// ExpiredSessionCleaner revokes sessions past their absolute expiry.
type ExpiredSessionCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// SessionSweeper periodically revokes expired sessions.
type SessionSweeper struct {
	cleaner  ExpiredSessionCleaner
	interval time.Duration
	logger   *zap.Logger
	stop     context.CancelFunc
	done     chan struct{}
}

// NewSessionSweeper constructs a sweeper. A non-positive interval disables it.
func NewSessionSweeper(cleaner ExpiredSessionCleaner, interval time.Duration, logger *zap.Logger) *SessionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSweeper{cleaner: cleaner, interval: interval, logger: logger}
}

// Start launches the sweep loop.
func (s *SessionSweeper) Start() {
	if s.interval <= 0 || s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one cleanup pass.
func (s *SessionSweeper) Sweep(ctx context.Context) int {
	n, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("session cleanup failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("expired sessions revoked", zap.Int("count", n))
	}
	return n
}

// Stop ends the loop and waits for it to exit.
func (s *SessionSweeper) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	s.stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSessionSweeper ties the sweeper to the fx lifecycle.
func StartSessionSweeper(lc fx.Lifecycle, cfg config.Config, cleaner ExpiredSessionCleaner, logger *zap.Logger) {
	sweeper := NewSessionSweeper(cleaner, cfg.SessionCleanupInterval, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Sweep(ctx)
			sweeper.Start()
			return nil
		},
		OnStop: sweeper.Stop,
	})
}
