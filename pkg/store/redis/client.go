package redis

import (
	"context"
	"fmt"
	"time"

	"camwatch/pkg/config"

	"github.com/go-redis/redis/v8"
)

const dialTimeout = 5 * time.Second

// RedisClient shared connection pool for the assignment store, cycle locks
// and the persisted enable switch
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects and pings once; ctx bounds the ping
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
		MaxRetries:  2,
	})

	r := &RedisClient{client: client}
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return r, nil
}

// WrapClient wraps an existing client (tests, shared pools)
func WrapClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Ping checks the connection (readiness probe)
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetClient retrieves the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
