package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// RedisConfig holds connection settings for the external cache tier.
type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	UseTLS    bool
}

// RedisCache implements domain.Cache on a Redis backend.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg *RedisConfig) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}

	return &RedisCache{client: client, prefix: cfg.KeyPrefix}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// MGet fetches many keys in one pipelined round trip. Missing keys are
// simply absent from the result.
func (c *RedisCache) MGet(ctx context.Context, keys []string) map[string]string {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, c.prefix+key)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil
	}

	out := make(map[string]string, len(keys))
	for i, cmd := range cmds {
		if cmd.Err() != nil {
			continue
		}
		out[keys[i]] = cmd.Val()
	}
	return out
}

// DeletePattern removes all keys matching the pattern via incremental SCAN,
// never KEYS, so large caches are not blocked.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, c.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("deleting %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoOpCache satisfies domain.Cache without a backend so the pipeline can
// run cache-less.
type NoOpCache struct{}

var _ domain.Cache = (*NoOpCache)(nil)

func (*NoOpCache) Get(context.Context, string) (string, bool) { return "", false }

func (*NoOpCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (*NoOpCache) MGet(context.Context, []string) map[string]string { return nil }

func (*NoOpCache) DeletePattern(context.Context, string) error { return nil }

func (*NoOpCache) Close() error { return nil }
