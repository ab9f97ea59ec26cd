package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	now := base
	g.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := g.Acquire(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Acquire(ctx, 1, time.Minute)
	assert.False(t, ok)
	ok, _ = g.Acquire(ctx, 2, time.Minute)
	assert.True(t, ok, "locks are per community")

	now = now.Add(2 * time.Minute)
	ok, _ = g.Acquire(ctx, 1, time.Minute)
	assert.True(t, ok, "an expired lock can be taken over")

	require.NoError(t, g.Release(ctx, 1))
	ok, _ = g.Acquire(ctx, 1, time.Minute)
	assert.True(t, ok)
}

func TestRedisGuardKey(t *testing.T) {
	g := NewRedisGuard(nil, " circles:locks: ")
	assert.Equal(t, "circles:locks:42", g.key(42))
	assert.Equal(t, "savings_circle:payout_lock:7", NewRedisGuard(nil, "").key(7))
}

func TestRedisGuard(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "savings_circle_test:" + time.Now().Format("150405.000000")
	first := NewRedisGuard(client, prefix)
	second := NewRedisGuard(client, prefix)

	ok, err := first.Acquire(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx, 1))
	ok, _ = second.Acquire(ctx, 1, time.Minute)
	assert.False(t, ok, "only the holder can release")

	require.NoError(t, first.Release(ctx, 1))
	ok, err = second.Acquire(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release(ctx, 1))
}
