package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a go-redis client with the hash-oriented operations the
// user record store and the flow state machine are built on.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// Config defines connection parameters for Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// New returns a Redis client based on provided configuration.
func New(cfg Config, logger *slog.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Redis{
		client: redis.NewClient(opts),
		logger: logger.With("component", "redis"),
	}
}

// Client exposes the underlying go-redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// SetHash stores all fields of a hash and applies the TTL.
func (r *Redis) SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]any, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := r.client.HSet(ctx, key, args).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return nil
}

// SetField writes a single hash field and renews the key TTL.
func (r *Redis) SetField(ctx context.Context, key, field, value string, ttl time.Duration) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s.%s: %w", key, field, err)
	}
	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return nil
}

// GetField reads a single hash field. The second return reports presence.
func (r *Redis) GetField(ctx context.Context, key, field string) (string, bool, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis hget %s.%s: %w", key, field, err)
	}
	return val, true, nil
}

// GetAllFields returns all fields of a hash. A missing key yields an empty map.
func (r *Redis) GetAllFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return fields, nil
}

// DeleteField removes one field from a hash.
func (r *Redis) DeleteField(ctx context.Context, key, field string) error {
	if err := r.client.HDel(ctx, key, field).Err(); err != nil {
		return fmt.Errorf("redis hdel %s.%s: %w", key, field, err)
	}
	return nil
}

// DeleteKey removes the whole key.
func (r *Redis) DeleteKey(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// TTL returns the remaining time to live of a key.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	return d, nil
}

// RenewTTL resets the TTL of an existing key.
func (r *Redis) RenewTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Keys enumerates keys matching a glob pattern via SCAN.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Close releases Redis resources.
func (r *Redis) Close() error {
	return r.client.Close()
}
