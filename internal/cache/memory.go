package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is a process-local Cache used when no Redis URL is configured.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memoryItem{}, now: time.Now}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) SetScanStatus(ctx context.Context, runID uuid.UUID, status string, ttl time.Duration) error {
	return c.Set(ctx, ScanStatusKey(runID), []byte(status), ttl)
}

func (c *MemoryCache) GetScanStatus(ctx context.Context, runID uuid.UUID) (string, bool, error) {
	v, ok, err := c.Get(ctx, ScanStatusKey(runID))
	return string(v), ok, err
}

// IncrWithExpiry increments key. The expiry is set by the increment that
// creates the key and left alone afterwards, matching the Redis pipeline.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	expiresAt := c.expiry(expiry)
	if item, ok := c.lookup(key); ok {
		n, _ = strconv.ParseInt(string(item.value), 10, 64)
		expiresAt = item.expiresAt
	}
	n++
	c.items[key] = memoryItem{value: []byte(strconv.FormatInt(n, 10)), expiresAt: expiresAt}
	return n, nil
}

func (c *MemoryCache) lookup(key string) (memoryItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

var _ Cache = (*MemoryCache)(nil)
