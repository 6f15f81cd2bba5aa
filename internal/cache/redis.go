package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned by TryLock when another process owns the key.
var ErrLockHeld = errors.New("lock held by another process")

// Redis wraps a go-redis client. A nil *Redis is a valid, disabled cache:
// reads miss, writes are dropped and locks are always granted.
type Redis struct {
	client *redis.Client
	prefix string
}

// New returns a Redis client, or nil when no address is configured.
func New(cfg models.RedisConfig) *Redis {
	if cfg.Addr == "" {
		return nil
	}
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
		prefix: "westwallet:",
	}
}

// Enabled reports whether a Redis server is configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.client != nil
}

// Key namespaces a cache key.
func (r *Redis) Key(parts ...string) string {
	prefix := "westwallet:"
	if r != nil {
		prefix = r.prefix
	}
	key := prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// SetJSON caches a value as JSON with the provided TTL.
func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !r.Enabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON retrieves a JSON value and unmarshals it into dest.
func (r *Redis) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !r.Enabled() {
		return false, nil
	}
	res, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(res), dest); err != nil {
		return false, fmt.Errorf("json unmarshal: %w", err)
	}
	return true, nil
}

// TryLock takes a short-lived exclusive lease on key. The returned release
// function deletes the key only while it still holds this owner's token.
func (r *Redis) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (func(), error) {
	if !r.Enabled() {
		return func() {}, nil
	}
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		current, err := r.client.Get(ctx, key).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				zap.L().Warn("Failed to read lock before release", zap.String("key", key), zap.Error(err))
			}
			return
		}
		if current != owner {
			return
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			zap.L().Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}

// Close releases Redis resources.
func (r *Redis) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
