package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

const defaultResultTTL = 30 * time.Minute

// ResultCache implements domain.ResultCache. Each result is stored as JSON at
// "result:{app}:{name}:{currency}".
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultCache creates a ResultCache; a non-positive ttl uses the default.
func NewResultCache(c *Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &ResultCache{rdb: c.Underlying(), ttl: ttl}
}

func resultKey(id domain.ItemIdentity) string {
	return "result:" + id.Key()
}

// Set stores res under its identity.
func (rc *ResultCache) Set(ctx context.Context, res domain.AnalyzeResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: marshal result %s: %w", res.Identity.Key(), err)
	}
	if err := rc.rdb.Set(ctx, resultKey(res.Identity), data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set result %s: %w", res.Identity.Key(), err)
	}
	return nil
}

// Get returns the cached result or domain.ErrNotFound.
func (rc *ResultCache) Get(ctx context.Context, id domain.ItemIdentity) (domain.AnalyzeResult, error) {
	data, err := rc.rdb.Get(ctx, resultKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AnalyzeResult{}, domain.ErrNotFound
		}
		return domain.AnalyzeResult{}, fmt.Errorf("redis: get result %s: %w", id.Key(), err)
	}

	var res domain.AnalyzeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.AnalyzeResult{}, fmt.Errorf("redis: unmarshal result %s: %w", id.Key(), err)
	}
	return res, nil
}

// Compile-time interface check.
var _ domain.ResultCache = (*ResultCache)(nil)
