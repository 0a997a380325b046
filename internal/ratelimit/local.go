// Package ratelimit provides an in-process domain.RateLimiter for
// single-instance deployments that run without Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// Local keeps one token bucket per key.
type Local struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocal allows limit requests per window for every key, with a burst of
// limit.
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Local{limit: limit, window: window, limiters: make(map[string]*rate.Limiter)}
}

func (l *Local) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.limiters[key] = lim
	}
	return lim
}

// Allow takes a token for key without blocking. The bucket for a key is
// sized by the first call that creates it.
func (l *Local) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("ratelimit: invalid limit %d per %s", limit, window)
	}
	return l.bucket(key, limit, window).Allow(), nil
}

// Wait blocks until key has a token under the configured limit or ctx ends.
func (l *Local) Wait(ctx context.Context, key string) error {
	if err := l.bucket(key, l.limit, l.window).Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*Local)(nil)
