package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ImageCache stores proxied images.
type ImageCache interface {
	Get(ctx context.Context, key string) (*Image, error)
	Set(ctx context.Context, key string, img *Image, ttl time.Duration) error
}

// CacheKey derives the cache key for an image URL.
func CacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "imgproxy:" + hex.EncodeToString(sum[:])
}

// RedisCache is an ImageCache on Redis hashes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects using a redis:// URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Image, error) {
	vals, err := c.client.HMGet(ctx, key, "content_type", "body").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read image cache: %w", err)
	}
	ct, _ := vals[0].(string)
	body, _ := vals[1].(string)
	if ct == "" || body == "" {
		return nil, nil
	}
	return &Image{ContentType: ct, Data: []byte(body)}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, img *Image, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "content_type", img.ContentType, "body", img.Data)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write image cache: %w", err)
	}
	return nil
}
