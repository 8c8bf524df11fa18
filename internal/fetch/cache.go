package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Page is a raw page body as cached.
type Page struct {
	URL  string `json:"url"`
	Body string `json:"body"`
}

type Cache interface {
	Get(ctx context.Context, key string) (Page, bool, error)
	Set(ctx context.Context, key string, page Page, ttl time.Duration) error
}

// RedisClient is the subset of the go-redis client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisCache struct {
	client RedisClient
	prefix string
}

func NewRedisCache(client RedisClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "page:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Page, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Page{}, false, nil
	}
	if err != nil {
		return Page{}, false, fmt.Errorf("redis get: %w", err)
	}

	var page Page
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return Page{}, false, fmt.Errorf("decoding cached page: %w", err)
	}
	return page, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, page Page, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encoding page: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
