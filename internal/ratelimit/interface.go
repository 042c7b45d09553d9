package ratelimit

import (
	"context"
	"time"
)

// Result is a single consistent snapshot of a rate-limit decision. Allow
// performs the check and the increment in one call so that two concurrent
// requests for the same key can never both claim the last slot.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)

	Limit() int

	Window() time.Duration
}
