package listing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forest6511/weblist/pkg/cache"
	"github.com/forest6511/weblist/pkg/cache/rediscache"
)

// MemoryCache adapts an in-process cache.
type MemoryCache struct {
	c *cache.Cache[Listing]
}

// NewMemoryCache wraps c.
func NewMemoryCache(c *cache.Cache[Listing]) *MemoryCache {
	return &MemoryCache{c: c}
}

func (m *MemoryCache) GetOrSet(ctx context.Context, key string, factory func(context.Context) (Listing, error)) (Listing, error) {
	return m.c.GetOrSet(key, func() (Listing, error) { return factory(ctx) })
}

func (m *MemoryCache) InvalidatePattern(_ context.Context, substr string) (int, error) {
	return m.c.InvalidatePattern(substr), nil
}

// RedisCache stores listings as JSON in a shared Redis cache.
type RedisCache struct {
	c *rediscache.Cache
}

// NewRedisCache wraps c.
func NewRedisCache(c *rediscache.Cache) *RedisCache {
	return &RedisCache{c: c}
}

func (r *RedisCache) GetOrSet(ctx context.Context, key string, factory func(context.Context) (Listing, error)) (Listing, error) {
	raw, err := r.c.GetOrSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		l, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(l)
	})
	if err != nil {
		return Listing{}, err
	}
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return Listing{}, fmt.Errorf("listing: corrupt cached listing %s: %w", key, err)
	}
	return l, nil
}

func (r *RedisCache) InvalidatePattern(ctx context.Context, substr string) (int, error) {
	return r.c.InvalidatePattern(ctx, substr)
}
