package figma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache resource types
const (
	ResourceImage = "image"
)

// DefaultCacheTTL is how long API responses stay cached in process.
const DefaultCacheTTL = 60 * time.Second

// CacheKey identifies a cached API response.
type CacheKey struct {
	Resource string
	FileKey  string
	NodeID   string
}

func (k CacheKey) String() string {
	return "figma:" + k.Resource + ":" + k.FileKey + ":" + k.NodeID
}

// Cache stores API responses. It is consulted before any network call.
// Implementations swallow their own failures and report a miss.
type Cache interface {
	Get(ctx context.Context, key CacheKey) ([]byte, bool)
	Set(ctx context.Context, key CacheKey, value []byte)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a TTL cache held in process memory.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache creates a cache. A non-positive ttl disables storing; a nil
// clock uses time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, k)
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key CacheKey, value []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = memoryEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares API responses between server instances.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to the Redis server at url (redis://...) and pings it.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.S().Named("figma").Warnw("redis cache get failed", "key", key.String(), "error", err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, value []byte) {
	if c.ttl <= 0 {
		return
	}
	if err := c.rdb.Set(ctx, key.String(), value, c.ttl).Err(); err != nil {
		zap.S().Named("figma").Warnw("redis cache set failed", "key", key.String(), "error", err)
	}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
