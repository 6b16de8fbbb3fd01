package cache

import (
	"context"
	"strconv"
	"time"
)

// InvalidationChannel is the Redis pub/sub channel carrying tag purges.
const InvalidationChannel = "cache.invalidate"

// TagCache stores JSON values grouped under invalidation tags. Purging a tag
// makes every key stored under it unreachable without enumerating them.
//
// Version and SetVersioned let a caller pin the tag version it read before
// computing a value: a purge that lands mid-computation leaves the write
// under a version no reader will ask for.
type TagCache interface {
	Get(ctx context.Context, tag, key string, dest any) (bool, error)
	Set(ctx context.Context, tag, key string, value any, ttl time.Duration) error
	Version(ctx context.Context, tag string) (int64, error)
	SetVersioned(ctx context.Context, tag, key string, version int64, value any, ttl time.Duration) error
	InvalidateTag(ctx context.Context, tag string) error
}

func versionedKey(key string, version int64) string {
	return key + ":v" + strconv.FormatInt(version, 10)
}
