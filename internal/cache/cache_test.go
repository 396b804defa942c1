package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "vdigate")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return map[string]Client{
		"memory": NewMemory("vdigate", 0),
		"redis":  rc,
	}
}

func TestClient_Ping(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Ping(context.Background()))
		})
	}
}

func TestClient_SetNXOnlyOnce(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first, err := c.SetNX(ctx, "state:abc", "1", time.Minute)
			require.NoError(t, err)
			require.True(t, first)

			second, err := c.SetNX(ctx, "state:abc", "1", time.Minute)
			require.NoError(t, err)
			require.False(t, second)
		})
	}
}

func TestMemory_Expires(t *testing.T) {
	c := NewMemory("", 0)
	ok, err := c.SetNX(context.Background(), "k", "v", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	ok, err = c.SetNX(context.Background(), "k", "v2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "vdigate")
	require.NoError(t, err)

	ok, err := c.SetNX(context.Background(), "k", "v", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("vdigate:k"))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("vdigate:k"))
	ok, err = c.SetNX(context.Background(), "k", "v", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_PingFailsWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "vdigate")
	require.NoError(t, err)

	mr.Close()
	require.Error(t, c.Ping(context.Background()))
}
