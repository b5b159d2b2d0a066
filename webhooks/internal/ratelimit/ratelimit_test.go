package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// steppingClock returns strictly increasing timestamps starting at base.
func steppingClock(base time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	rl := NewWithClient(client, 3, time.Minute).(*redisRateLimiter)
	base := time.Now()
	rl.now = steppingClock(base)

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}

	allowed, err := rl.Allow(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Keys are independent.
	allowed, err = rl.Allow(ctx, "acct-2")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Once the window has slid past the first hits they are forgotten.
	rl.now = steppingClock(base.Add(2 * time.Minute))
	allowed, err = rl.Allow(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.NoError(t, rl.Close())
}

func TestRedisRateLimiter_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	rl := NewWithClient(client, 3, time.Minute)
	mr.Close()

	_, err := rl.Allow(context.Background(), "acct-1")
	assert.Error(t, err)
}

func TestNewRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	rl, err := NewRedisRateLimiter(fmt.Sprintf("redis://%s/0", mr.Addr()), 1, time.Second)
	require.NoError(t, err)
	allowed, err := rl.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, rl.Close())

	_, err = NewRedisRateLimiter("not-a-valid-url", 1, time.Second)
	assert.Error(t, err)
}

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(context.Background(), "any")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}
