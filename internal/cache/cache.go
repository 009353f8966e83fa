package cache

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultTTL is how long a listed model set stays fresh.
const DefaultTTL = 10 * time.Minute

// CachedModels represents a cached model listing
type CachedModels struct {
	Models    []string
	Timestamp time.Time
}

// GenerateCacheKey derives a key from the platform and its endpoint, so
// pointing a platform at a new base URL invalidates what was listed before.
func GenerateCacheKey(platform, baseURL string) string {
	h := sha256.New()
	h.Write([]byte(platform))
	h.Write([]byte{0})
	h.Write([]byte(baseURL))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ModelCache keeps model listings per platform.
type ModelCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// NewModelCache creates a cache whose entries expire after ttl.
// A non-positive ttl uses DefaultTTL.
func NewModelCache(ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ModelCache{ttl: ttl, now: time.Now}
}

// Get returns the cached models for key if they have not expired.
func (c *ModelCache) Get(key string) ([]string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	cached := val.(CachedModels)
	if c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return nil, false
	}
	return slices.Clone(cached.Models), true
}

// Store records a fresh model listing for key.
func (c *ModelCache) Store(key string, models []string) {
	c.entries.Store(key, CachedModels{
		Models:    slices.Clone(models),
		Timestamp: c.now(),
	})
}

// Invalidate drops the entry for key.
func (c *ModelCache) Invalidate(key string) {
	c.entries.Delete(key)
}
