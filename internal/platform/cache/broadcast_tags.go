package cache

import (
	"context"
	"time"
)

// BroadcastTagCache serves reads and writes from an in-process cache and
// announces purges through Redis so sibling processes drop theirs too.
type BroadcastTagCache struct {
	local  *MemoryTagCache
	remote *RedisTagCache
}

// NewBroadcastTagCache pairs local with remote. Call Listen once so purges
// published by other processes reach local.
func NewBroadcastTagCache(local *MemoryTagCache, remote *RedisTagCache) *BroadcastTagCache {
	return &BroadcastTagCache{local: local, remote: remote}
}

// Listen subscribes local to purges announced on InvalidationChannel.
func (c *BroadcastTagCache) Listen(ctx context.Context) error {
	return c.remote.ListenForInvalidation(ctx, c.local.Invalidate)
}

// Get reads from the local cache.
func (c *BroadcastTagCache) Get(ctx context.Context, tag, key string, dest any) (bool, error) {
	return c.local.Get(ctx, tag, key, dest)
}

// Set writes to the local cache.
func (c *BroadcastTagCache) Set(ctx context.Context, tag, key string, value any, ttl time.Duration) error {
	return c.local.Set(ctx, tag, key, value, ttl)
}

// Version reports the local tag version, which follows remote purges.
func (c *BroadcastTagCache) Version(ctx context.Context, tag string) (int64, error) {
	return c.local.Version(ctx, tag)
}

// SetVersioned writes to the local cache under version.
func (c *BroadcastTagCache) SetVersioned(ctx context.Context, tag, key string, version int64, value any, ttl time.Duration) error {
	return c.local.SetVersioned(ctx, tag, key, version, value, ttl)
}

// InvalidateTag purges locally, then publishes. A publish failure is
// returned after the local purge has already happened.
func (c *BroadcastTagCache) InvalidateTag(ctx context.Context, tag string) error {
	if err := c.local.InvalidateTag(ctx, tag); err != nil {
		return err
	}
	return c.remote.InvalidateTag(ctx, tag)
}

var _ TagCache = (*BroadcastTagCache)(nil)
