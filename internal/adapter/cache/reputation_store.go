package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const reputationPrefix = "ip_reputation:"

// RedisReputationStore keeps IP reputation records as JSON with a TTL.
type RedisReputationStore struct {
	client redis.UniversalClient
}

var _ repository.ReputationStore = (*RedisReputationStore)(nil)

// NewRedisReputationStore constructs a Redis-backed reputation store.
func NewRedisReputationStore(client redis.UniversalClient) *RedisReputationStore {
	return &RedisReputationStore{client: client}
}

// Get loads the record for ip, returning nil when none is stored.
func (s *RedisReputationStore) Get(ctx context.Context, ip string) (*domain.IPReputation, error) {
	bytes, err := s.client.Get(ctx, reputationPrefix+ip).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load reputation: %w", err)
	}
	var rep domain.IPReputation
	if err := json.Unmarshal(bytes, &rep); err != nil {
		return nil, fmt.Errorf("decode reputation: %w", err)
	}
	return &rep, nil
}

// Put stores rep, refreshing its retention.
func (s *RedisReputationStore) Put(ctx context.Context, rep domain.IPReputation, ttl time.Duration) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal reputation: %w", err)
	}
	if err := s.client.Set(ctx, reputationPrefix+rep.IP, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist reputation: %w", err)
	}
	return nil
}
