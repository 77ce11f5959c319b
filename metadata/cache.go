package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when no live entry exists.
var ErrCacheMiss = errors.New("metadata cache miss")

// DefaultTTL bounds how long a generated document is served without a rebuild.
const DefaultTTL = 25 * time.Minute

// Entry is a cached index document.
type Entry struct {
	Data     []byte    `json:"data"`
	Modified time.Time `json:"modified"`
}

// Cache stores generated index documents by key.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, keys ...string) error
}

type memoryEntry struct {
	entry    *Entry
	storedAt time.Time
}

// MemoryCache is a process-local LRU cache with a per-entry TTL.
type MemoryCache struct {
	cache *lru.Cache[string, memoryEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates an LRU cache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}
	return &MemoryCache{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*Entry, error) {
	cached, ok := c.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.now().Sub(cached.storedAt) > c.ttl {
		c.cache.Remove(key)
		return nil, ErrCacheMiss
	}
	return cached.entry, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, entry *Entry) error {
	c.cache.Add(key, memoryEntry{entry: entry, storedAt: c.now()})
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Remove(key)
	}
	return nil
}

// RedisKeyPrefix namespaces index documents in a shared Redis.
const RedisKeyPrefix = "artifacts:metadata:"

// RedisCache shares generated documents between server instances.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. Entries expire after ttl.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read metadata from redis: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached metadata: %w", err)
	}
	return &entry, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := c.client.Set(ctx, RedisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write metadata to redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = RedisKeyPrefix + key
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("failed to delete metadata from redis: %w", err)
	}
	return nil
}
