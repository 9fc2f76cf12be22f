package persistence

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/jrsteele09/go-vault/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	_, ok, err := s.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem(ctx, "k", "v1"))
	require.NoError(t, s.SetItem(ctx, "k", "v2"))
	v, ok, err := s.GetItem(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.RemoveItem(ctx, "k"))
	require.NoError(t, s.RemoveItem(ctx, "k"))
	_, ok, err = s.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKV_LoadSeedsInitial(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	k := NewKV(s, "prefs")

	data, err := k.Load(ctx, map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "en"}, data)

	raw, ok, err := s.GetItem(ctx, "prefs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"lang":"en"}`, raw)

	// A second load reads the entry and ignores initial.
	data, err = NewKV(s, "prefs").Load(ctx, map[string]any{"lang": "fr"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "en"}, data)
}

func TestKV_FlushUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	k := NewKV(s, "box")
	_, err := k.Load(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, k.Flush(ctx, map[string]any{"a": int64(1), "b": []any{"x"}}))
	require.NoError(t, k.Flush(ctx, map[string]any{"a": int64(2)}))

	data, err := NewKV(s, "box").Load(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(2)}, data)
}

func TestKV_CorruptEntryFailsLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	require.NoError(t, s.SetItem(ctx, "bad", "{not json"))

	_, err := NewKV(s, "bad").Load(ctx, nil)
	require.ErrorIs(t, err, kvstore.ErrCorruptSnapshot)

	// The entry is left alone for inspection.
	raw, ok, err := s.GetItem(ctx, "bad")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{not json", raw)
}

func TestKV_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	k := NewKV(s, "gone")
	_, err := k.Load(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, k.Delete(ctx))
	_, ok, err := s.GetItem(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, k.Delete(ctx), kvstore.ErrNotFound)
	assert.NoError(t, k.Close())
}

func TestKVFactory(t *testing.T) {
	s := NewMemoryStorage()
	b, err := KVFactory(s)("named")
	require.NoError(t, err)
	k, ok := b.(*KV)
	require.True(t, ok)
	assert.Equal(t, "named", k.name)
}

// TestRedisStorage runs against a live server when VAULT_TEST_REDIS_ADDR is set.
func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("VAULT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VAULT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	s := NewRedisStorage(client, "vault-test:")
	defer s.RemoveItem(ctx, "redis-box")

	k := NewKV(s, "redis-box")
	data, err := k.Load(ctx, map[string]any{"n": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, data)

	raw, err := client.Get(ctx, "vault-test:redis-box").Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, raw)

	require.NoError(t, k.Flush(ctx, map[string]any{"n": int64(2)}))
	data, err = NewKV(s, "redis-box").Load(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(2)}, data)

	require.NoError(t, k.Delete(ctx))
	_, ok, err := s.GetItem(ctx, "redis-box")
	require.NoError(t, err)
	assert.False(t, ok)
}
