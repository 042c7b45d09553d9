package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/velstudio/chat-gateway/internal/storage"
)

// RedisLimiter is a fixed-window limiter backed by a shared redis instance,
// for deployments where the per-process MemoryLimiter cap is not enough.
// INCR is atomic on the server, so concurrent requests across instances see
// a single counter.
type RedisLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewRedis(redis *storage.RedisClient, limit int, window time.Duration) *RedisLimiter {
	// Window arithmetic works on whole seconds; anything shorter would
	// divide by zero.
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	windowSec := int64(r.window.Seconds())
	currentWindow := time.Now().Unix() / windowSec
	redisKey := fmt.Sprintf("ratelimit:chat:%s:%d", key, currentWindow)

	count, err := r.redis.Incr(ctx, redisKey)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit incr: %w", err)
	}

	if count == 1 {
		if err := r.redis.Expire(ctx, redisKey, r.window); err != nil {
			return Result{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(r.limit),
		Limit:     r.limit,
		Remaining: remaining,
		Reset:     time.Unix((currentWindow+1)*windowSec, 0),
	}, nil
}

func (r *RedisLimiter) Limit() int {
	return r.limit
}

func (r *RedisLimiter) Window() time.Duration {
	return r.window
}
