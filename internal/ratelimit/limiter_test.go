package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLoginKey(t *testing.T) {
	assert.Equal(t, "login:9.9.9.9", LoginKey("9.9.9.9"))
}

func TestLimiter_SixthRapidAttemptIsThrottled(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := New(NewMemoryStoreWithClock(clock.Now), time.Minute)
	key := LoginKey("1.2.3.4")

	for i := 0; i < 5; i++ {
		limited, err := limiter.TooManyAttempts(ctx, key, 5)
		require.NoError(t, err)
		assert.False(t, limited, "attempt %d should pass", i+1)

		_, err = limiter.Hit(ctx, key)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	limited, err := limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.True(t, limited)

	available, err := limiter.AvailableIn(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 55*time.Second, available)
}

func TestLimiter_TooManyAttemptsDoesNotIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter := New(store, time.Minute)

	for i := 0; i < 10; i++ {
		_, err := limiter.TooManyAttempts(ctx, "k", 5)
		require.NoError(t, err)
	}

	count, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLimiter_WindowResetsAfterDecay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := New(NewMemoryStoreWithClock(clock.Now), time.Minute)
	key := LoginKey("1.2.3.4")

	for i := 0; i < 5; i++ {
		_, err := limiter.Hit(ctx, key)
		require.NoError(t, err)
	}

	// later hits in the window do not extend it
	clock.Advance(59 * time.Second)
	count, err := limiter.Hit(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	clock.Advance(time.Second)
	limited, err := limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.False(t, limited)

	count, err = limiter.Hit(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLimiter_ClearStartsFromZero(t *testing.T) {
	ctx := context.Background()
	limiter := New(NewMemoryStore(), time.Minute)
	key := LoginKey("1.2.3.4")

	for i := 0; i < 4; i++ {
		_, err := limiter.Hit(ctx, key)
		require.NoError(t, err)
	}

	require.NoError(t, limiter.Clear(ctx, key))

	count, err := limiter.Hit(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLimiter_AvailableInUnknownKey(t *testing.T) {
	limiter := New(NewMemoryStore(), time.Minute)

	available, err := limiter.AvailableIn(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, available)
}

type failingStore struct{}

var errBoom = errors.New("boom")

func (failingStore) Increment(context.Context, string, time.Duration) (int64, error) { return 0, errBoom }
func (failingStore) Get(context.Context, string) (int64, error)                      { return 0, errBoom }
func (failingStore) TTL(context.Context, string) (time.Duration, error)              { return 0, errBoom }
func (failingStore) Delete(context.Context, string) error                            { return errBoom }

func TestLimiter_StoreErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	limiter := New(failingStore{}, time.Minute)

	limited, err := limiter.TooManyAttempts(ctx, "k", 5)
	assert.False(t, limited)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = limiter.Hit(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, limiter.Clear(ctx, "k"), ErrStoreUnavailable)

	_, err = limiter.AvailableIn(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 0, Seconds(0))
	assert.Equal(t, 0, Seconds(-time.Second))
	assert.Equal(t, 1, Seconds(200*time.Millisecond))
	assert.Equal(t, 60, Seconds(time.Minute))
	assert.Equal(t, 61, Seconds(time.Minute+time.Millisecond))
}

func TestMemoryStore_Prune(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)

	_, _ = store.Increment(ctx, "a", time.Second)
	_, _ = store.Increment(ctx, "b", time.Minute)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Prune())

	count, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
