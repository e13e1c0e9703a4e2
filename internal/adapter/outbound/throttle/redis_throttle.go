// Package throttle implements outbound.Throttle for progress write limiting.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docpipeline/internal/port/outbound"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "docpipeline:throttle:"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisThrottle admits one event per key and interval across all processes
// sharing the Redis instance.
type RedisThrottle struct {
	client redis.Cmdable
	prefix string
}

var _ outbound.Throttle = (*RedisThrottle)(nil)

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisThrottle wraps a Redis client.
func NewRedisThrottle(client redis.Cmdable) *RedisThrottle {
	return &RedisThrottle{client: client, prefix: defaultKeyPrefix}
}

// Allow sets the key with NX and a PX expiry of interval. Only the caller that
// creates the key is admitted.
func (t *RedisThrottle) Allow(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return true, nil
	}
	ok, err := t.client.SetNX(ctx, t.prefix+key, 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("throttle check for %s failed: %w", key, err)
	}
	return ok, nil
}
