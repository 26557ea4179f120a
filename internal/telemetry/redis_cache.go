package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"controlling_reservoir/internal/models"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "reservoir:telemetry:"

// RedisCache shares the latest readings between processes through Redis key expiry.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: redisKeyPrefix}
}

func (c *RedisCache) key(reservoirID string) string {
	return c.prefix + reservoirID + ":latest"
}

func (c *RedisCache) Get(ctx context.Context, reservoirID string) (models.Reading, bool, error) {
	b, err := c.client.Get(ctx, c.key(reservoirID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Reading{}, false, nil
	}
	if err != nil {
		return models.Reading{}, false, fmt.Errorf("redis get: %w", err)
	}
	var r models.Reading
	if err := json.Unmarshal(b, &r); err != nil {
		return models.Reading{}, false, fmt.Errorf("decode cached reading: %w", err)
	}
	return r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, reservoirID string, r models.Reading, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	if err := c.client.Set(ctx, c.key(reservoirID), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, reservoirID string) error {
	if err := c.client.Del(ctx, c.key(reservoirID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
