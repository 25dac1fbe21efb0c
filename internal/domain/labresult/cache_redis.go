package labresult

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of redis.Cmdable the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const redisKeyPrefix = "lims:verify:"

// RedisVerificationCache keeps found verification projections for ttl.
type RedisVerificationCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisVerificationCache(client RedisClient, ttl time.Duration) *RedisVerificationCache {
	return &RedisVerificationCache{client: client, ttl: ttl}
}

func (c *RedisVerificationCache) Get(ctx context.Context, key string) (*VerificationDetails, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var d VerificationDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, fmt.Errorf("decode cached verification %s: %w", key, err)
	}
	return &d, true, nil
}

func (c *RedisVerificationCache) Set(ctx context.Context, key string, d *VerificationDetails) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisVerificationCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisKeyPrefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
