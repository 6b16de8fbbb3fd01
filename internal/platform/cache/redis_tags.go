package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTagCache keeps a monotonically increasing version per tag and embeds
// it in every data key, so a bump orphans old entries until their TTL expires.
type RedisTagCache struct {
	client *redis.Client
}

// NewRedisTagCache wraps a Redis client.
func NewRedisTagCache(client *redis.Client) *RedisTagCache {
	return &RedisTagCache{client: client}
}

// Version returns the current tag version, initialising when missing.
func (c *RedisTagCache) Version(ctx context.Context, tag string) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(tag)).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent bump from being overwritten.
		if err := c.client.SetNX(ctx, versionKey(tag), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(tag)).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, versionKey(tag), ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// Get loads key into dest. The boolean is false on a miss.
func (c *RedisTagCache) Get(ctx context.Context, tag, key string, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	dataKey, err := c.dataKey(ctx, tag, key)
	if err != nil {
		return false, err
	}
	payload, err := c.client.Get(ctx, dataKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value as JSON under the current tag version.
func (c *RedisTagCache) Set(ctx context.Context, tag, key string, value any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.Version(ctx, tag)
	if err != nil {
		return err
	}
	return c.SetVersioned(ctx, tag, key, ver, value, ttl)
}

// SetVersioned stores value under version. A version older than the current
// one is skipped; a purge racing past the check still leaves the entry under
// a key no reader builds.
func (c *RedisTagCache) SetVersioned(ctx context.Context, tag, key string, version int64, value any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	current, err := c.Version(ctx, tag)
	if err != nil {
		return err
	}
	if current != version {
		return nil
	}
	return c.client.Set(ctx, versionedKey(key, version), raw, ttl).Err()
}

// InvalidateTag bumps the tag version and announces it to subscribers.
func (c *RedisTagCache) InvalidateTag(ctx context.Context, tag string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(tag)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, InvalidationChannel, tag+":"+strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation calls fn with the tag of every purge published on
// InvalidationChannel until ctx is cancelled.
func (c *RedisTagCache) ListenForInvalidation(ctx context.Context, fn func(tag string)) error {
	if c == nil || c.client == nil || fn == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, InvalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				tag := msg.Payload
				if idx := strings.LastIndex(tag, ":"); idx > 0 {
					tag = tag[:idx]
				}
				if tag != "" {
					fn(tag)
				}
			}
		}
	}()
	return nil
}

func (c *RedisTagCache) dataKey(ctx context.Context, tag, key string) (string, error) {
	ver, err := c.Version(ctx, tag)
	if err != nil {
		return "", err
	}
	return versionedKey(key, ver), nil
}

func versionKey(tag string) string {
	return "cache:tag:" + tag + ":version"
}

var _ TagCache = (*RedisTagCache)(nil)
