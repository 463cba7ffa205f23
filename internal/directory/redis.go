package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a resolved name stays cached in redis.
const DefaultTTL = 24 * time.Hour

const redisKeyPrefix = "timebridge:display-name:"

// redisClient is the subset of redis.Cmdable the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares resolved names between processes.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redisClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// DialRedis builds a RedisCache from a redis:// URL.
func DialRedis(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCache(redis.NewClient(opts), ttl), nil
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (string, bool, error) {
	name, err := c.client.Get(ctx, redisKeyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return name, true, nil
}

func (c *RedisCache) Set(ctx context.Context, accountID, name string) error {
	if err := c.client.Set(ctx, redisKeyPrefix+accountID, name, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
