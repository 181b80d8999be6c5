package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightzen/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "k", 0.1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
	}
	res, err := bucket.Allow(ctx, "k", 0.1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestTokenBucketValidation(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrLimiterNotConfigured)

	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	_, err = bucket.Allow(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrInvalidLimiterKey)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimiterRate)
}

func TestDialerLimiterDisabledAllows(t *testing.T) {
	cfg := config.Config{}
	limiter := NewDialerLimiter(cfg, nil)
	assert.Nil(t, limiter)

	res, err := limiter.AllowInterviewer(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestDialerLimiterPerInterviewer(t *testing.T) {
	_, client := newRedis(t)
	cfg := config.Config{}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.DialerNextRate = 0.01
	cfg.RateLimit.DialerNextBurst = 1

	limiter := NewDialerLimiter(cfg, client)
	require.NotNil(t, limiter)
	ctx := context.Background()

	res, err := limiter.AllowInterviewer(ctx, "10", "500")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.AllowInterviewer(ctx, "10", "500")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.AllowInterviewer(ctx, "10", "501")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLeaderLockSingleHolder(t *testing.T) {
	mr, client := newRedis(t)
	first := NewLeaderLock(client)
	second := NewLeaderLock(client)
	ctx := context.Background()

	release, ok, err := first.Acquire(ctx, "expire_assignments", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx, "expire_assignments", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release(ctx)
	assert.False(t, mr.Exists("leader:expire_assignments"))

	_, ok, err = second.Acquire(ctx, "expire_assignments", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaderLockWithoutRedis(t *testing.T) {
	lock := NewLeaderLock(nil)
	release, ok, err := lock.Acquire(context.Background(), "job", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	release(context.Background())
}

func TestLeaderLockReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newRedis(t)
	lock := NewLeaderLock(client)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, "expire_assignments", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The lease lapses and another replica takes over before release runs.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("leader:expire_assignments", "other"))

	release(ctx)
	got, err := mr.Get("leader:expire_assignments")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestLeaderLockValidation(t *testing.T) {
	_, client := newRedis(t)
	lock := NewLeaderLock(client)

	_, _, err := lock.Acquire(context.Background(), " ", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLeaderName)
	_, _, err = lock.Acquire(context.Background(), "job", 0)
	assert.ErrorIs(t, err, ErrInvalidLeaderTTL)
}
