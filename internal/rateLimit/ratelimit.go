package rateLimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Counter interface {
	Client() *redis.Client
}

type RateLimiter struct {
	redis Counter
}

func NewRateLimiter(redis Counter) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow counts one hit on key in a fixed window. It fails open when Redis is
// unreachable so that bookings keep working.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return true
	}

	return incr.Val() <= int64(rate)
}
