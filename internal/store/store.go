package store

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/ephemera/internal/models"
)

// VerdictCache remembers remote scan results so identical files and hosts
// are not resubmitted to the provider. Both MemoryCache and RedisStore
// implement this interface.
type VerdictCache interface {
	GetVerdict(ctx context.Context, key string) (*models.ScanResult, bool)
	PutVerdict(ctx context.Context, key string, result *models.ScanResult, ttl time.Duration) error
}

type cachedVerdict struct {
	result    models.ScanResult
	expiresAt time.Time
}

// MemoryCache is an in-process VerdictCache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cachedVerdict
	max     int
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most max entries.
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 1024
	}
	return &MemoryCache{
		entries: make(map[string]cachedVerdict),
		max:     max,
		now:     time.Now,
	}
}

// GetVerdict returns a cached result if it has not expired.
func (c *MemoryCache) GetVerdict(_ context.Context, key string) (*models.ScanResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(v.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	result := v.result
	return &result, true
}

// PutVerdict stores a result. When full, expired entries are dropped first,
// then an arbitrary entry.
func (c *MemoryCache) PutVerdict(_ context.Context, key string, result *models.ScanResult, ttl time.Duration) error {
	if result == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		for k, v := range c.entries {
			if !now.Before(v.expiresAt) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < c.max {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedVerdict{result: *result, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of cached entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
