// Package cache provides the Redis-backed read cache for the pool.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
)

// ErrCacheMiss indicates a cache miss
var ErrCacheMiss = errors.New("cache miss")

// RedisPoolCache implements interfaces.PoolCache using Redis. All failures
// are advisory: callers fall through to the repository.
type RedisPoolCache struct {
	client redis.Cmdable
	log    *zap.Logger
	prefix string
}

// NewRedisPoolCache creates a new Redis-based pool cache
func NewRedisPoolCache(client redis.Cmdable, log *zap.Logger, prefix string) *RedisPoolCache {
	return &RedisPoolCache{
		client: client,
		log:    log,
		prefix: prefix,
	}
}

// GetStats retrieves the cached stats view
func (c *RedisPoolCache) GetStats(ctx context.Context) (*interfaces.PoolStats, error) {
	key := c.statsKey()

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		c.log.Error("failed to get stats from cache", zap.Error(err), zap.String("key", key))
		return nil, err
	}

	var stats interfaces.PoolStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		c.log.Error("failed to unmarshal cached stats", zap.Error(err), zap.String("key", key))
		return nil, err
	}

	return &stats, nil
}

// SetStats stores the stats view in cache
func (c *RedisPoolCache) SetStats(ctx context.Context, stats *interfaces.PoolStats, ttl time.Duration) error {
	key := c.statsKey()

	data, err := json.Marshal(stats)
	if err != nil {
		c.log.Error("failed to marshal stats for cache", zap.Error(err))
		return err
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Error("failed to set stats in cache", zap.Error(err), zap.String("key", key))
		return err
	}

	return nil
}

// InvalidateStats removes the stats view from cache
func (c *RedisPoolCache) InvalidateStats(ctx context.Context) error {
	key := c.statsKey()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("failed to invalidate stats cache", zap.Error(err), zap.String("key", key))
		return err
	}

	return nil
}

func (c *RedisPoolCache) statsKey() string {
	return c.prefix + ":stats"
}
