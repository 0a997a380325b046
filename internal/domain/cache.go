package domain

import (
	"context"
	"time"
)

// ResultCache provides fast access to the latest analyze result.
type ResultCache interface {
	Set(ctx context.Context, res AnalyzeResult) error
	Get(ctx context.Context, id ItemIdentity) (AnalyzeResult, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes analysis events to downstream consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Channel and stream names used on the SignalBus.
const (
	ChannelAnalysis = "ch:analysis"
	StreamAnalysis  = "stream:analysis"
)
