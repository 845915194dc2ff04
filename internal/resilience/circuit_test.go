package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/resilience"
)

func TestBreakerTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.5, 50*time.Millisecond)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)
	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	time.Sleep(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "cool-off elapsed, trial call expected")
	require.False(t, breaker.Allow(ctx), "only one trial call at a time")
	breaker.Record(ctx, resilience.Success)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerIgnoresNeutralOutcomes(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond)
	ctx := context.Background()

	for range 10 {
		require.True(t, breaker.Allow(ctx))
		breaker.Record(ctx, resilience.Neutral)
	}
	require.Equal(t, resilience.Closed, breaker.State())

	breaker.Record(ctx, resilience.Failure)
	require.Equal(t, resilience.Open, breaker.State())

	require.Eventually(t, func() bool { return breaker.Allow(ctx) }, time.Second, 5*time.Millisecond)
	breaker.Record(ctx, resilience.Neutral)
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.True(t, breaker.Allow(ctx), "a neutral trial frees the slot")
	breaker.Record(ctx, resilience.Failure)
	require.Equal(t, resilience.Open, breaker.State())
}

func TestProviderOutcome(t *testing.T) {
	live := context.Background()
	gone, cancel := context.WithCancel(context.Background())
	cancel()
	boom := errors.New("connection reset")

	cases := []struct {
		name   string
		ctx    context.Context
		status int
		err    error
		want   resilience.Outcome
	}{
		{"ok", live, http.StatusOK, nil, resilience.Success},
		{"unreadable receipt", live, http.StatusUnprocessableEntity, nil, resilience.Neutral},
		{"bad request", live, http.StatusBadRequest, nil, resilience.Neutral},
		{"throttled", live, http.StatusTooManyRequests, nil, resilience.Failure},
		{"provider down", live, http.StatusBadGateway, nil, resilience.Failure},
		{"transport", live, 0, boom, resilience.Failure},
		{"caller left", gone, 0, context.Canceled, resilience.Neutral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, resilience.ProviderOutcome(tc.ctx, tc.status, tc.err))
		})
	}
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	require.Equal(t, base, resilience.Backoff(base, 0, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}
