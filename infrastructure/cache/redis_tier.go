package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
)

// RedisTier is a Tier backed by Redis
type RedisTier struct {
	client *redis.Client
	prefix string
	logger *logging.Logger
}

// NewRedisTier connects to Redis and verifies the connection
func NewRedisTier(ctx context.Context, cfg config.RedisConfig, logger *logging.Logger) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.GetRedisAddr(),
		Password:    cfg.Password,
		DB:          cfg.Database,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache tier connected", logging.String("addr", cfg.GetRedisAddr()), logging.Int("db", cfg.Database))

	return &RedisTier{client: client, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// NewRedisTierFromClient wraps an existing client
func NewRedisTierFromClient(client *redis.Client, prefix string, logger *logging.Logger) *RedisTier {
	return &RedisTier{client: client, prefix: prefix, logger: logger}
}

// Get returns the raw value for key
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores data under key for ttl
func (t *RedisTier) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := t.client.Set(ctx, t.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the client
func (t *RedisTier) Close() error {
	return t.client.Close()
}
