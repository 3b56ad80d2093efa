package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	limiter := New(NewRedisStore(client, ""), time.Minute)
	key := LoginKey("9.9.9.9")

	for i := 0; i < 5; i++ {
		_, err := limiter.Hit(ctx, key)
		require.NoError(t, err)
	}

	assert.True(t, mr.Exists("sentinel:rl:login:9.9.9.9"))
	assert.Equal(t, time.Minute, mr.TTL("sentinel:rl:login:9.9.9.9"))

	limited, err := limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.True(t, limited)

	available, err := limiter.AvailableIn(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 60, Seconds(available))

	mr.FastForward(time.Minute)

	limited, err = limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRedisStore_ClearAndMissingKeys(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	store := NewRedisStore(client, "test:")

	count, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, count)

	ttl, err := store.TTL(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	_, err = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "k"))

	count, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	limiter := New(NewRedisStore(client, ""), time.Minute)

	mr.Close()

	_, err = limiter.TooManyAttempts(ctx, "k", 5)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisStore_KeyWithoutTTLStillExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	limiter := New(NewRedisStore(client, ""), time.Minute)
	key := LoginKey("9.9.9.9")
	raw := "sentinel:rl:login:9.9.9.9"

	// a counter left behind by a lost EXPIRE
	require.NoError(t, client.Incr(ctx, raw).Err())
	assert.Zero(t, mr.TTL(raw))

	for i := 0; i < 4; i++ {
		_, err := limiter.Hit(ctx, key)
		require.NoError(t, err)
	}

	assert.Equal(t, time.Minute, mr.TTL(raw))
	limited, err := limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.True(t, limited)

	mr.FastForward(24 * time.Hour)

	assert.False(t, mr.Exists(raw))
	limited, err = limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRedisStore_LaterHitsKeepWindow(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "")

	count, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	mr.FastForward(40 * time.Second)

	count, err = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 20*time.Second, mr.TTL("sentinel:rl:k"))
}
