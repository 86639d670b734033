package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures Retry's exponential backoff (spec.md §4.2:
// delay = min(max_delay, base_delay * multiplier^i * (1 + U[0,1) *
// jitter_factor))).
type RetryConfig struct {
	MaxAttempts int // including the initial attempt. Default: 3.

	BaseDelay    time.Duration // Default: 1s.
	MaxDelay     time.Duration // Default: 30s.
	Multiplier   float64       // Default: 2.0.
	JitterFactor float64       // Default: 0.1.

	// RetryIf classifies an error as retryable. Default: all non-nil
	// errors are retried.
	RetryIf func(err error) bool

	// OnRetry is invoked before each wait, with the attempt number
	// (1-based) that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = func(err error) bool { return err != nil }
	}
}

// Retry executes an operation with bounded exponential backoff. Delay
// growth and capping are delegated to backoff.ExponentialBackOff, whose
// InitialInterval/Multiplier/MaxInterval fields map onto spec.md §4.2's
// formula; the library's RandomizationFactor is forced to 0 and the
// one-sided jitter is applied by specJitterBackOff. Retry itself owns
// the attempt-count loop, RetryIf classification, and OnRetry hook.
type Retry struct {
	config RetryConfig
}

func NewRetry(config RetryConfig) *Retry {
	config.applyDefaults()
	return &Retry{config: config}
}

// Execute runs op, retrying on RetryIf-classified errors until
// MaxAttempts is exhausted, ctx is cancelled, or op succeeds.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	bo := r.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (r *Retry) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.config.BaseDelay
	eb.MaxInterval = r.config.MaxDelay
	eb.Multiplier = r.config.Multiplier
	eb.RandomizationFactor = r.config.JitterFactor
	eb.MaxElapsedTime = 0 // Retry owns the attempt budget, not the backoff.
	// cenkalti/backoff jitters as base*(1±factor); spec.md's formula is
	// base*(1+U[0,1)*factor), strictly non-negative. specJitterBackOff
	// applies that jitter itself on top of the library's unjittered
	// interval, keeping the library for exponential growth and capping.
	eb.Reset()
	return &specJitterBackOff{eb: eb, jitterFactor: r.config.JitterFactor}
}

// specJitterBackOff wraps backoff.ExponentialBackOff to apply spec.md's
// one-sided jitter formula instead of the library's default ±factor
// jitter, while reusing the library for interval growth and capping.
type specJitterBackOff struct {
	eb           *backoff.ExponentialBackOff
	jitterFactor float64
}

func (s *specJitterBackOff) NextBackOff() time.Duration {
	s.eb.RandomizationFactor = 0 // compute the unjittered interval ourselves
	base := s.eb.NextBackOff()
	if base == backoff.Stop {
		return s.eb.MaxInterval
	}
	jitter := 1 + rand.Float64()*s.jitterFactor
	delay := time.Duration(float64(base) * jitter)
	if delay > s.eb.MaxInterval {
		delay = s.eb.MaxInterval
	}
	return delay
}

func (s *specJitterBackOff) Reset() { s.eb.Reset() }
