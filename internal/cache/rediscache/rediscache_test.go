package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newCacheWithMock(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client), mr
}

func TestRedisCache_PutGet(t *testing.T) {
	c, mr := newCacheWithMock(t)
	ctx := context.Background()

	payload := []byte{0xff, 0xd8, 0x00, 0x01, 0xfe}
	require.NoError(t, c.Put(ctx, "abc_original", payload, 0))

	got, ok, err := c.Get(ctx, "abc_original")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)

	// без ttl - живет до явного удаления
	require.Equal(t, time.Duration(0), mr.TTL("abc_original"))
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newCacheWithMock(t)

	got, ok, err := c.Get(context.Background(), "never-stored")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newCacheWithMock(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "images_list", []byte(`[]`), time.Hour))
	require.Equal(t, time.Hour, mr.TTL("images_list"))

	mr.FastForward(time.Hour + time.Second)

	_, ok, err := c.Get(ctx, "images_list")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	c, mr := newCacheWithMock(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", []byte("1"), 0))
	require.NoError(t, c.Put(ctx, "k2", []byte("2"), 0))

	require.NoError(t, c.Delete(ctx, "k1", "k2", "k3"))
	require.False(t, mr.Exists("k1"))
	require.False(t, mr.Exists("k2"))

	require.NoError(t, c.Delete(ctx))
}

func TestRedisCache_BackendDown(t *testing.T) {
	c, mr := newCacheWithMock(t)
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
	require.Error(t, c.Put(context.Background(), "k", []byte("v"), 0))
}
