package grading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	permanent := errors.New("bad request")

	err := policy.Do(context.Background(), func(error) bool { return false }, func(context.Context) error {
		calls++
		return permanent
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.False(t, exhausted.Retryable)
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0

	err := policy.Do(context.Background(), func(error) bool { return true }, func(context.Context) error {
		calls++
		return errors.New("unavailable")
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.True(t, exhausted.Retryable)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, 3, calls)
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := policy.Do(ctx, func(error) bool { return true }, func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryPolicyDelayGrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, policy.Delay(0))
	require.Equal(t, 200*time.Millisecond, policy.Delay(1))
	require.Equal(t, 300*time.Millisecond, policy.Delay(2))

	policy.Jitter = 0.5
	for i := 0; i < 20; i++ {
		delay := policy.Delay(0)
		require.GreaterOrEqual(t, delay, 50*time.Millisecond)
		require.LessOrEqual(t, delay, 150*time.Millisecond)
	}
}
