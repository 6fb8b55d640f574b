package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// New returns a Redis-backed cache when addr is set and reachable, otherwise
// the in-memory fallback. Redis being down must degrade throughput, not
// availability.
func New(ctx context.Context, addr string, logger *zap.Logger) Cache {
	if addr == "" {
		logger.Info("no redis address configured, using in-memory cache")
		return NewMemory()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to in-memory cache",
			zap.String("addr", addr),
			zap.Error(err))
		_ = client.Close()
		return NewMemory()
	}

	logger.Info("connected to redis cache", zap.String("addr", addr))
	return NewRedis(client)
}
