package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the go-redis client for async job queue operations.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client from URL.
// URL format: redis://[:password@]host:port/db
func NewRedisClient(url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// PushJSON appends value as JSON to the list at key and sets its TTL.
// The producer side of a job: the consumer BLPOPs the same key.
func (r *RedisClient) PushJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// BLPop performs a blocking left pop on the specified key.
// Returns redis.Nil when nothing arrives before timeout.
func (r *RedisClient) BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	result, err := r.client.BLPop(ctx, timeout, key).Result()
	if err != nil {
		return nil, err
	}

	// BLPop returns [key, value] pair
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected blpop result format")
	}

	return []byte(result[1]), nil
}

// Ping checks Redis connectivity.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// IsNil reports whether err is the go-redis "no value" sentinel.
func IsNil(err error) bool {
	return err == redis.Nil
}
