package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// PostgresCounterRepo implements CounterStore with a single upsert, so the
// window reset and the increment happen in one statement.
type PostgresCounterRepo struct {
	db DB
}

var _ CounterStore = (*PostgresCounterRepo)(nil)

// NewPostgresCounterRepo constructs the counter repository.
func NewPostgresCounterRepo(db DB) *PostgresCounterRepo {
	return &PostgresCounterRepo{db: db}
}

const hitCounterSQL = `INSERT INTO rate_limits (key, count, reset_at) VALUES ($1, 1, $2)
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN rate_limits.reset_at <= $3 THEN 1 ELSE rate_limits.count + 1 END,
	reset_at = CASE WHEN rate_limits.reset_at <= $3 THEN EXCLUDED.reset_at ELSE rate_limits.reset_at END
RETURNING count, reset_at`

// Hit increments key within its current window.
func (r *PostgresCounterRepo) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (domain.RateLimitCounter, bool, error) {
	counter := domain.RateLimitCounter{Key: key}
	if err := r.db.QueryRow(ctx, hitCounterSQL, key, now.Add(window), now).Scan(&counter.Count, &counter.ResetAt); err != nil {
		return domain.RateLimitCounter{}, false, fmt.Errorf("hit rate limit counter: %w", err)
	}
	return counter, counter.Count == 1, nil
}
