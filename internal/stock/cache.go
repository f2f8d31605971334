package stock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// LevelCache is a read-through cache for stock level projections. The
// apply step invalidates entries after every committed movement, so a
// cached row is never older than the last write plus the TTL.
type LevelCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLevelCache constructs LevelCache.
func NewLevelCache(client *redis.Client, ttl time.Duration) *LevelCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LevelCache{client: client, ttl: ttl}
}

func cacheKey(key LevelKey) string {
	return "stock:level:" + key.String()
}

// Get returns the cached level for the key, if any.
func (c *LevelCache) Get(ctx context.Context, key LevelKey) (StockLevel, bool, error) {
	if c == nil || c.client == nil {
		return StockLevel{}, false, nil
	}
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StockLevel{}, false, nil
		}
		return StockLevel{}, false, err
	}
	var level StockLevel
	if err := json.Unmarshal(data, &level); err != nil {
		return StockLevel{}, false, err
	}
	return level, true, nil
}

// Set stores the level under its key.
func (c *LevelCache) Set(ctx context.Context, level StockLevel) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(level)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(level.Key()), data, c.ttl).Err()
}

// Invalidate drops the cached entry for the key.
func (c *LevelCache) Invalidate(ctx context.Context, key LevelKey) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(key)).Err()
}
