package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window per-key request limiter backed by Redis.
type Limiter struct {
	redis     *redis.Client
	perSecond int64
}

// New creates a limiter over an existing Redis client.
func New(rdb *redis.Client, perSecond int) *Limiter {
	return &Limiter{redis: rdb, perSecond: int64(perSecond)}
}

// Allow reports whether the caller identified by key may proceed.
// Redis failures fail open.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.redis == nil {
		return true
	}

	k := "ratelimit:" + key

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return true
	}

	// Set expiry on the first request of the window
	if count == 1 {
		l.redis.Expire(ctx, k, time.Second)
	}

	return count <= l.perSecond
}
