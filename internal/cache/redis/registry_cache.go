package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RegistryCache implements domain.RegistryCache using plain Redis strings.
// Registry contents change rarely relative to balances, so short-TTL reuse
// across simulation runs is safe.
//
// Key schema:
//
//	registry:token:{addr}  - "1" or "0" for token registration
//	registry:broker:{key}  - interceptor hex, or a sentinel for unregistered
type RegistryCache struct {
	rdb *redis.Client
}

// NewRegistryCache creates a RegistryCache backed by the given Client.
func NewRegistryCache(c *Client) *RegistryCache {
	return &RegistryCache{rdb: c.Underlying()}
}

func tokenRegKey(token string) string { return "registry:token:" + token }
func brokerRegKey(key string) string  { return "registry:broker:" + key }

// GetTokenRegistered returns the cached registration flag and whether the key
// was present.
func (rc *RegistryCache) GetTokenRegistered(ctx context.Context, token string) (bool, bool, error) {
	v, err := rc.rdb.Get(ctx, tokenRegKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis: get token registration %s: %w", token, err)
	}
	return v == "1", true, nil
}

// SetTokenRegistered caches a token registration flag for ttl.
func (rc *RegistryCache) SetTokenRegistered(ctx context.Context, token string, registered bool, ttl time.Duration) error {
	v := "0"
	if registered {
		v = "1"
	}
	if err := rc.rdb.Set(ctx, tokenRegKey(token), v, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set token registration %s: %w", token, err)
	}
	return nil
}

// GetBrokerRegistration returns the cached registration value and whether the
// key was present. The value encoding is owned by the caller.
func (rc *RegistryCache) GetBrokerRegistration(ctx context.Context, key string) (string, bool, error) {
	v, err := rc.rdb.Get(ctx, brokerRegKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get broker registration %s: %w", key, err)
	}
	return v, true, nil
}

// SetBrokerRegistration caches a broker registration for ttl.
func (rc *RegistryCache) SetBrokerRegistration(ctx context.Context, key, interceptor string, ttl time.Duration) error {
	if err := rc.rdb.Set(ctx, brokerRegKey(key), interceptor, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set broker registration %s: %w", key, err)
	}
	return nil
}
