package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listCacheKey    = "catalog:list:v1"
	detailKeyPrefix = "catalog:product:"
	invalidateChunk = 100
)

// Cache wraps Redis helpers for JSON payloads. A nil client disables caching
// without changing call sites.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// InvalidateList drops the cached default listing together with every cached
// product detail. Errors are ignored; a stale entry expires on its TTL anyway.
func (c *Cache) InvalidateList(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, listCacheKey).Err()

	iter := c.client.Scan(ctx, 0, detailKeyPrefix+"*", invalidateChunk).Iterator()
	keys := make([]string, 0, invalidateChunk)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == invalidateChunk {
			_ = c.client.Del(ctx, keys...).Err()
			keys = keys[:0]
		}
	}
	if len(keys) > 0 {
		_ = c.client.Del(ctx, keys...).Err()
	}
}

func detailCacheKey(id string) string {
	return detailKeyPrefix + id
}
