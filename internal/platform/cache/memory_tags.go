package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemoryEntries = 1024

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryTagCache is an in-process TagCache backed by an expirable LRU.
// Entries carry their own deadline so per-call TTLs shorter than maxTTL hold.
type MemoryTagCache struct {
	entries  *lru.LRU[string, memoryEntry]
	mu       sync.Mutex
	versions map[string]int64
	now      func() time.Time
}

// NewMemoryTagCache builds a cache holding at most size entries, none living
// longer than maxTTL.
func NewMemoryTagCache(size int, maxTTL time.Duration) *MemoryTagCache {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	return &MemoryTagCache{
		entries:  lru.NewLRU[string, memoryEntry](size, nil, maxTTL),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for per-entry expiry.
func (c *MemoryTagCache) WithClock(fn func() time.Time) {
	if fn != nil {
		c.now = fn
	}
}

// Get loads key into dest. The boolean is false on a miss or expiry.
func (c *MemoryTagCache) Get(_ context.Context, tag, key string, dest any) (bool, error) {
	dataKey := c.dataKey(tag, key)
	entry, ok := c.entries.Get(dataKey)
	if !ok {
		return false, nil
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		c.entries.Remove(dataKey)
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value as JSON under the current tag version.
func (c *MemoryTagCache) Set(ctx context.Context, tag, key string, value any, ttl time.Duration) error {
	ver, _ := c.Version(ctx, tag)
	return c.SetVersioned(ctx, tag, key, ver, value, ttl)
}

// Version returns the current tag version.
func (c *MemoryTagCache) Version(_ context.Context, tag string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[tag], nil
}

// SetVersioned stores value under version. Writes for a version that has
// already been purged are dropped.
func (c *MemoryTagCache) SetVersioned(_ context.Context, tag, key string, version int64, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{payload: raw}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[tag] != version {
		return nil
	}
	c.entries.Add(versionedKey(key, version), entry)
	return nil
}

// InvalidateTag bumps the tag version.
func (c *MemoryTagCache) InvalidateTag(_ context.Context, tag string) error {
	c.mu.Lock()
	c.versions[tag]++
	c.mu.Unlock()
	return nil
}

// Invalidate is InvalidateTag without a context, for pub/sub callbacks.
func (c *MemoryTagCache) Invalidate(tag string) {
	_ = c.InvalidateTag(context.Background(), tag)
}

func (c *MemoryTagCache) dataKey(tag, key string) string {
	c.mu.Lock()
	ver := c.versions[tag]
	c.mu.Unlock()
	return versionedKey(key, ver)
}

var _ TagCache = (*MemoryTagCache)(nil)
