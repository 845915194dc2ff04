package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewSliding(client, "test:", "2-S")
	require.NoError(t, err)
	require.Equal(t, time.Second, limiter.Window)
	require.Equal(t, 2, limiter.Max)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "scan:user:1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 2-(i+1), d.Remaining)
	}

	d, err := limiter.Allow(ctx, "scan:user:1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)

	// other users have their own window
	d, err = limiter.Allow(ctx, "scan:user:2")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	mr.FastForward(limiter.Window)

	d, err = limiter.Allow(ctx, "scan:user:1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestNewSlidingRejectsBadRate(t *testing.T) {
	_, err := NewSliding(nil, "x:", "lots")
	require.Error(t, err)
}
