package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, StateClosed, b.State())

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateClosed, b.State())

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsConcurrentProbes(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxRequests: 1})
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	time.Sleep(15 * time.Millisecond)

	blocked := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			<-blocked
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	close(blocked)
}

func TestBreakerManualTripAndReset(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{ResetTimeout: time.Hour})
	b.Trip()
	require.Equal(t, StateOpen, b.State())

	b.ResetManual()
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, 0, b.Metrics().Failures)
}

func TestBreakerMonitoringPeriodResetsFailureCount(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Hour,
		MonitoringPeriod: 10 * time.Millisecond,
	})

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, 2, b.Metrics().Failures)

	time.Sleep(15 * time.Millisecond)
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateClosed, b.State(), "isolated failures across monitoring windows must not trip the circuit")
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker("search", BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, []string{"search:closed->open"}, transitions)
}
