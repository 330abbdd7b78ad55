package metrics

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache memoizes computed metrics for a short TTL.
type Cache interface {
	Get(ctx context.Context, key string) (Metrics, bool, error)
	Set(ctx context.Context, key string, m Metrics, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process least-recently-used cache with per-entry
// expiry. It is safe for concurrent use.
type MemoryCache struct {
	items    map[string]*list.Element
	order    *list.List
	now      func() time.Time
	capacity int
	mu       sync.Mutex
}

type memoryEntry struct {
	expires time.Time
	key     string
	val     Metrics
}

// NewMemoryCache creates a cache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns a live entry and marks it as recently used. Expired entries
// are removed on access.
func (c *MemoryCache) Get(_ context.Context, key string) (Metrics, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Metrics{}, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if !c.now().Before(entry.expires) {
		c.removeElement(elem)
		return Metrics{}, false, nil
	}
	c.order.MoveToFront(elem)
	return entry.val, true, nil
}

// Set adds or replaces an entry, evicting the least recently used one at
// capacity.
func (c *MemoryCache) Set(_ context.Context, key string, m Metrics, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.val = m
		entry.expires = expires
		c.order.MoveToFront(elem)
		return nil
	}

	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, val: m, expires: expires})
	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Len returns the number of entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
}

// RedisCache shares computed metrics across server replicas.
type RedisCache struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, prefix string) (*RedisCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if prefix == "" {
		prefix = "tidum:metrics:"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, prefix: prefix}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (Metrics, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Metrics{}, false, nil
	}
	if err != nil {
		return Metrics{}, false, fmt.Errorf("redis get: %w", err)
	}
	var m Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metrics{}, false, fmt.Errorf("failed to decode cached metrics: %w", err)
	}
	return m, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, m Metrics, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err()
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
