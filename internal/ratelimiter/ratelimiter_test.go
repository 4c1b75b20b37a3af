package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d should be allowed within burst", i)
	}
	assert.False(t, limiter.Allow(), "request should be limited after burst exhausted")
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestKeyedLimiterIsolatesKeys(t *testing.T) {
	k := NewKeyed[uint32](1, 2, 0)

	assert.True(t, k.Allow(100))
	assert.True(t, k.Allow(100))
	assert.False(t, k.Allow(100), "pid 100 exhausted its burst")

	assert.True(t, k.Allow(200), "pid 200 has its own bucket")
	assert.Equal(t, 2, k.Len())
}

func TestKeyedLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k := NewKeyed[string](1, 1, time.Minute)
	k.now = func() time.Time { return now }

	k.Allow("a")
	now = now.Add(2 * time.Minute)
	k.Allow("b")

	assert.Equal(t, 1, k.Len())
}
