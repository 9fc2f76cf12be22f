package persistence

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// Storage is a flat string key-value store, the shape of browser local
// storage. Implementations must be safe for concurrent use.
type Storage interface {
	// GetItem returns the entry for key and whether it exists.
	GetItem(ctx context.Context, key string) (string, bool, error)

	// SetItem creates or replaces the entry for key.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes the entry for key. Removing a missing entry is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// MemoryStorage keeps entries in process memory. Entries never expire.
type MemoryStorage struct {
	c *cache.Cache
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{c: cache.New(cache.NoExpiration, 0)}
}

// GetItem returns the entry for key.
func (m *MemoryStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, errors.Errorf("MemoryStorage.GetItem %q holds %T", key, v)
	}
	return s, true, nil
}

// SetItem stores value under key.
func (m *MemoryStorage) SetItem(_ context.Context, key, value string) error {
	m.c.Set(key, value, cache.NoExpiration)
	return nil
}

// RemoveItem deletes key.
func (m *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// RedisStorage keeps entries in Redis under prefix+key.
type RedisStorage struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStorage returns a Storage backed by client. Every key is prefixed
// with prefix, which may be empty.
func NewRedisStorage(client redis.Cmdable, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

// GetItem returns the entry for key.
func (r *RedisStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "RedisStorage.GetItem")
	}
	return v, true, nil
}

// SetItem stores value under key with no expiry.
func (r *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, time.Duration(0)).Err(); err != nil {
		return errors.Wrap(err, "RedisStorage.SetItem")
	}
	return nil
}

// RemoveItem deletes key.
func (r *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "RedisStorage.RemoveItem")
	}
	return nil
}
