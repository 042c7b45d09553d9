package ratelimit

import (
	"time"

	"github.com/velstudio/chat-gateway/internal/storage"
)

// NewLimiter selects the rate-limit backend. redis may be nil for the memory
// backend, which is also the fallback for unknown names.
func NewLimiter(backend string, redis *storage.RedisClient, limit int, window time.Duration) Limiter {
	switch backend {
	case "redis":
		return NewRedis(redis, limit, window)
	case "memory":
		return NewMemory(limit, window)
	default:
		return NewMemory(limit, window)
	}
}
