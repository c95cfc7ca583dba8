package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := NewBreaker(2, 0.5, time.Minute)
	ctx := context.Background()

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)

	require.False(t, b.Allow(ctx), "breaker must reject once the ratio is exceeded")
}

func TestBreakerStaysClosedBelowRatio(t *testing.T) {
	b := NewBreaker(4, 0.5, time.Minute)
	ctx := context.Background()

	b.Report(ctx, true)
	b.Report(ctx, true)
	b.Report(ctx, true)
	b.Report(ctx, false)

	require.True(t, b.Allow(ctx))
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	ctx := context.Background()

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx))

	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow(ctx), "cool-off expiry permits a probe")

	b.Report(ctx, true)
	require.True(t, b.Allow(ctx), "successful probe closes the breaker")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	ctx := context.Background()

	b.Report(ctx, false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow(ctx))

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx), "failed probe reopens the breaker")
}
