package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	l := New("redis://"+mr.Addr(), "rl-test", zerolog.Nop())
	t.Cleanup(func() { l.Close() })

	require.Equal(t, BackendRedis, l.ServiceStatus(context.Background()).Backend)
	return l, mr
}

func TestCheckRedisLimitSequence(t *testing.T) {
	l, _ := setupRedisLimiter(t)
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		res := l.Check(ctx, "tenant-a", 3, time.Minute)
		assert.True(t, res.Allowed, "call %d should be allowed", i+1)
		assert.Equal(t, wantRemaining, res.Remaining, "call %d remaining", i+1)
		assert.Zero(t, res.RetryAfter, "call %d must not carry retry-after", i+1)
	}

	res := l.Check(ctx, "tenant-a", 3, time.Minute)
	assert.False(t, res.Allowed, "4th call should be denied")
	assert.Equal(t, 0, res.Remaining)
	assert.Positive(t, res.RetryAfter)
	assert.True(t, res.ResetTime.After(time.Now()))
}

func TestCheckRedisKeysAreIndependent(t *testing.T) {
	l, _ := setupRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Check(ctx, "tenant-a", 3, time.Minute)
	}
	assert.False(t, l.Check(ctx, "tenant-a", 3, time.Minute).Allowed)
	assert.True(t, l.Check(ctx, "tenant-b", 3, time.Minute).Allowed)
}

func TestCheckRedisWindowExpiry(t *testing.T) {
	l, mr := setupRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l.Check(ctx, "k", 1, time.Minute)
	}
	assert.False(t, l.Check(ctx, "k", 1, time.Minute).Allowed)

	mr.FastForward(2 * time.Minute)
	assert.True(t, l.Check(ctx, "k", 1, time.Minute).Allowed, "window elapsed, counter should restart")
}

func TestResetClearsKey(t *testing.T) {
	l, _ := setupRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Check(ctx, "k", 3, time.Minute)
	}
	require.NoError(t, l.Reset(ctx, "k"))
	assert.True(t, l.Check(ctx, "k", 3, time.Minute).Allowed)
}

func TestClearAllPurgesPrefix(t *testing.T) {
	l, mr := setupRedisLimiter(t)
	ctx := context.Background()

	l.Check(ctx, "a", 1, time.Minute)
	l.Check(ctx, "b", 1, time.Minute)
	require.NoError(t, l.ClearAll(ctx))

	assert.False(t, mr.Exists("rl-test:a"))
	assert.False(t, mr.Exists("rl-test:b"))
}

func TestStatusReflectsCount(t *testing.T) {
	l, _ := setupRedisLimiter(t)
	ctx := context.Background()

	st := l.Status(ctx, "k")
	assert.Zero(t, st.Count)

	l.Check(ctx, "k", 5, time.Minute)
	l.Check(ctx, "k", 5, time.Minute)

	st = l.Status(ctx, "k")
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, BackendRedis, st.Backend)
	assert.True(t, st.ResetTime.After(time.Now()))
}

func TestDegradesToLocalOnRedisFailure(t *testing.T) {
	l, mr := setupRedisLimiter(t)
	ctx := context.Background()

	mr.Close()

	// Still answers, now from the local counter, and the flip is permanent.
	res := l.Check(ctx, "k", 2, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	st := l.ServiceStatus(ctx)
	assert.Equal(t, BackendMemory, st.Backend)
	assert.True(t, st.Healthy)
	assert.Equal(t, 1, st.Entries)
}

func TestLocalLimiterSequence(t *testing.T) {
	l := New("", "", zerolog.Nop())
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		res := l.Check(ctx, "k", 3, time.Minute)
		assert.True(t, res.Allowed, "call %d", i+1)
		assert.Equal(t, wantRemaining, res.Remaining)
	}
	res := l.Check(ctx, "k", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)
}

func TestLocalLimiterWindowExpiry(t *testing.T) {
	l := New("", "", zerolog.Nop())
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "k", 1, 100*time.Millisecond).Allowed)
	assert.False(t, l.Check(ctx, "k", 1, 100*time.Millisecond).Allowed)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, l.Check(ctx, "k", 1, 100*time.Millisecond).Allowed)
}

func TestLocalCleanupExpired(t *testing.T) {
	l := New("", "", zerolog.Nop())
	ctx := context.Background()

	l.Check(ctx, "a", 1, 50*time.Millisecond)
	l.Check(ctx, "b", 1, time.Minute)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, l.CleanupExpired())
	assert.Equal(t, 1, l.ServiceStatus(ctx).Entries)
}

func TestServiceStatusRedisEntriesUnknown(t *testing.T) {
	l, _ := setupRedisLimiter(t)
	st := l.ServiceStatus(context.Background())
	assert.Equal(t, BackendRedis, st.Backend)
	assert.True(t, st.Healthy)
	assert.Equal(t, -1, st.Entries)
}
