package middleware

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed lua/sliding_window.lua
var slidingWindowScript string

// RedisStore shares the limiter state between instances through a sorted set per client.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

func (s *RedisStore) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.script.Run(ctx, s.client, []string{s.prefix + key},
		now, window.Milliseconds(), max, fmt.Sprintf("%d-%s", now, uuid.NewString())).Int()
	if err != nil {
		return false, fmt.Errorf("lua script failed: %w", err)
	}
	return res == 1, nil
}
