// Package rediscache is the multi-process counterpart of pkg/cache. It
// keeps the same contract (bounded size, fixed TTL, LRU eviction, lazy
// removal of stale entries) on top of Redis.
//
// Layout under the configured prefix:
//
//	<prefix>:v:<key>  value, expires with PX ttl
//	<prefix>:lru      sorted set of keys scored by access sequence
//	<prefix>:seq      monotonically increasing access sequence
//
// Every operation is a single Lua script so that no partial update is
// observable by other clients. The scripts address value keys they do
// not declare, so only a single Redis node is supported, not Cluster.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Errors
var (
	ErrInvalidCapacity = errors.New("rediscache: capacity must be at least 1")
	ErrInvalidTTL      = errors.New("rediscache: ttl must be at least 1ms")
	ErrInvalidPrefix   = errors.New("rediscache: prefix must not be empty")
)

const getScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return false
end
local seq = redis.call("INCR", KEYS[3])
redis.call("ZADD", KEYS[2], seq, ARGV[1])
return v
`

const setScript = `
local evicted = 0
if not redis.call("ZSCORE", KEYS[2], ARGV[1]) then
  local cap = tonumber(ARGV[4])
  while redis.call("ZCARD", KEYS[2]) >= cap do
    local oldest = redis.call("ZRANGE", KEYS[2], 0, 0)
    if #oldest == 0 then
      break
    end
    redis.call("ZREM", KEYS[2], oldest[1])
    if redis.call("DEL", ARGV[5] .. oldest[1]) == 1 then
      evicted = evicted + 1
      break
    end
  end
end
local seq = redis.call("INCR", KEYS[3])
redis.call("ZADD", KEYS[2], seq, ARGV[1])
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return evicted
`

const deleteScript = `
local deleted = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return deleted
`

const invalidateScript = `
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
local removed = 0
for _, m in ipairs(members) do
  if string.find(m, ARGV[1], 1, true) then
    redis.call("ZREM", KEYS[1], m)
    removed = removed + redis.call("DEL", ARGV[2] .. m)
  end
end
return removed
`

const clearScript = `
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, m in ipairs(members) do
  redis.call("DEL", ARGV[1] .. m)
end
redis.call("DEL", KEYS[1], KEYS[2])
return #members
`

var (
	getLua        = redis.NewScript(getScript)
	setLua        = redis.NewScript(setScript)
	deleteLua     = redis.NewScript(deleteScript)
	invalidateLua = redis.NewScript(invalidateScript)
	clearLua      = redis.NewScript(clearScript)
)

// Config configures a Redis-backed cache.
type Config struct {
	Prefix   string
	Capacity int
	TTL      time.Duration
}

// Cache is a bounded TTL/LRU cache stored in Redis.
type Cache struct {
	rdb      *redis.Client
	prefix   string
	capacity int
	ttl      time.Duration
}

// New validates cfg and returns a Cache using rdb.
func New(rdb *redis.Client, cfg Config) (*Cache, error) {
	if cfg.Prefix == "" {
		return nil, ErrInvalidPrefix
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, cfg.Capacity)
	}
	if cfg.TTL < time.Millisecond {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTTL, cfg.TTL)
	}
	return &Cache{
		rdb:      rdb,
		prefix:   cfg.Prefix,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
	}, nil
}

func (c *Cache) valuePrefix() string { return c.prefix + ":v:" }
func (c *Cache) valueKey(k string) string { return c.valuePrefix() + k }
func (c *Cache) lruKey() string { return c.prefix + ":lru" }
func (c *Cache) seqKey() string { return c.prefix + ":seq" }

// Get returns the value for key and whether it was a fresh hit.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := getLua.Run(ctx, c.rdb, []string{c.valueKey(key), c.lruKey(), c.seqKey()}, key).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rediscache: get %q: %w", key, err)
	}
	return []byte(res), true, nil
}

// Set stores value under key and marks it most recently used. It
// reports whether another entry was evicted to make room.
func (c *Cache) Set(ctx context.Context, key string, value []byte) (bool, error) {
	evicted, err := setLua.Run(ctx, c.rdb,
		[]string{c.valueKey(key), c.lruKey(), c.seqKey()},
		key, value, c.ttl.Milliseconds(), c.capacity, c.valuePrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rediscache: set %q: %w", key, err)
	}
	return evicted > 0, nil
}

// Delete removes key and reports whether a live entry was removed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := deleteLua.Run(ctx, c.rdb, []string{c.valueKey(key), c.lruKey()}, key).Int()
	if err != nil {
		return false, fmt.Errorf("rediscache: delete %q: %w", key, err)
	}
	return n > 0, nil
}

// InvalidatePattern removes every key containing substr and returns the
// number of live entries removed.
func (c *Cache) InvalidatePattern(ctx context.Context, substr string) (int, error) {
	n, err := invalidateLua.Run(ctx, c.rdb, []string{c.lruKey()}, substr, c.valuePrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("rediscache: invalidate %q: %w", substr, err)
	}
	return n, nil
}

// GetOrSet returns the cached value or stores and returns the result of
// factory. Factory errors are returned and not cached. No lock is held
// across factory.
func (c *Cache) GetOrSet(ctx context.Context, key string, factory func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}
	v, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.Set(ctx, key, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Clear removes all entries under the prefix.
func (c *Cache) Clear(ctx context.Context) error {
	if err := clearLua.Run(ctx, c.rdb, []string{c.lruKey(), c.seqKey()}, c.valuePrefix()).Err(); err != nil {
		return fmt.Errorf("rediscache: clear: %w", err)
	}
	return nil
}

// Len returns the number of tracked keys, including stale ones not yet
// removed.
func (c *Cache) Len(ctx context.Context) (int, error) {
	n, err := c.rdb.ZCard(ctx, c.lruKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscache: len: %w", err)
	}
	return int(n), nil
}
