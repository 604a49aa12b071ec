package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/venue-bookings/internal/adapters/redis"
)

// Backend stores cached responses by key.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	redis Backend
	ttl   time.Duration
}

func NewIdempotency(redis Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

// Get returns the response recorded for key, or nil when the key is empty or unknown.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if key == "" {
		return nil, nil
	}
	cached, err := i.redis.Get(ctx, key)
	if err != nil || cached == nil {
		return nil, err
	}
	return &Response{Status: cached.Status, Result: cached.Result}, nil
}

// Set records resp for key. Server errors are never recorded so that a retry
// with the same key is executed again.
func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if key == "" || resp.Status >= 500 {
		return nil
	}
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}
