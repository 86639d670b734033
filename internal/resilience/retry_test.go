package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 2, attempts)
}

func TestRetryDoesNotRetryWhenRetryIfRejects(t *testing.T) {
	r := NewRetry(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		RetryIf:     func(err error) bool { return false },
	})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, attempts)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := r.Execute(ctx, func(context.Context) error {
		attempts++
		return errBoom
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestRetryDelayNeverExceedsMaxDelay(t *testing.T) {
	r := NewRetry(RetryConfig{
		MaxAttempts:  10,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   4,
		JitterFactor: 0.5,
	})
	bo := r.newBackOff()
	for i := 0; i < 10; i++ {
		d := bo.NextBackOff()
		require.LessOrEqual(t, d, 5*time.Millisecond)
	}
}

func TestRetryOnRetryCallback(t *testing.T) {
	var seenAttempts []int
	r := NewRetry(RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			seenAttempts = append(seenAttempts, attempt)
		},
	})
	_ = r.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, []int{1, 2}, seenAttempts)
}

func TestRetryReturnsUnderlyingErrorType(t *testing.T) {
	sentinel := errors.New("specific failure")
	r := NewRetry(RetryConfig{MaxAttempts: 1})
	err := r.Execute(context.Background(), func(context.Context) error { return sentinel })
	require.ErrorIs(t, err, sentinel)
}
