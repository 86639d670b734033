// Package resilience implements the per-downstream Resilient Client:
// circuit breaker, backoff retry, and connection pool (spec.md §4.2).
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Execute when the circuit is
// open and not yet due for a half-open probe.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is one of the three circuit breaker states (spec.md §4.1).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker (spec.md §3 CircuitBreakerConfig,
// §4.1).
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures, while
	// closed, that trips the circuit open. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxRequests bounds concurrent probes while half-open.
	// Default: 1.
	HalfOpenMaxRequests int

	// MonitoringPeriod, when positive, periodically resets the closed
	// failure counter so that isolated, non-consecutive failures don't
	// eventually accumulate to the threshold (spec.md §4.1's
	// monitoring-window reset).
	MonitoringPeriod time.Duration

	// OnStateChange is invoked after every transition.
	OnStateChange func(name string, from, to State)

	// IsFailure classifies an error as breaker-relevant. Default: any
	// non-nil error counts.
	IsFailure func(err error) bool
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
}

// Breaker is a single downstream's circuit breaker. One Breaker guards
// one Resilient Client (spec.md §4.1): it never crosses service
// boundaries.
type Breaker struct {
	name   string
	config BreakerConfig

	mu              sync.Mutex
	state           State
	failures        int
	lastFailure     time.Time
	halfOpenInUse   int
	monitorWindowAt time.Time
}

// NewBreaker builds a Breaker identified by name (used only in
// OnStateChange callbacks and logging).
func NewBreaker(name string, config BreakerConfig) *Breaker {
	config.applyDefaults()
	return &Breaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		monitorWindowAt: time.Now(),
	}
}

// Execute runs op if the circuit permits it, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := op(ctx)
	b.afterRequest(err)
	return err
}

// State returns the current state, resolving a due open->half-open
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// Trip forces the circuit open regardless of the failure count
// (spec.md §6 manual trip operation).
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen)
	b.lastFailure = time.Now()
}

// ResetManual forces the circuit closed and clears all counters
// (spec.md §6 manual reset operation).
func (b *Breaker) ResetManual() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.halfOpenInUse = 0
	b.monitorWindowAt = time.Now()
}

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	State       State
	Failures    int
	LastFailure time.Time
}

func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:       b.currentStateLocked(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeResetMonitoringWindowLocked()

	switch b.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenInUse >= b.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		b.halfOpenInUse++
	}
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	isFailure := b.config.IsFailure(err)

	switch b.state {
	case StateClosed:
		if isFailure {
			b.failures++
			b.lastFailure = time.Now()
			if b.failures >= b.config.FailureThreshold {
				b.transitionLocked(StateOpen)
			}
		} else {
			b.failures = 0
		}
	case StateHalfOpen:
		b.halfOpenInUse--
		if isFailure {
			b.lastFailure = time.Now()
			b.transitionLocked(StateOpen)
		} else {
			b.transitionLocked(StateClosed)
			b.failures = 0
		}
	}
}

// currentStateLocked resolves a due open->half-open transition before
// returning the state; callers must already hold b.mu.
func (b *Breaker) currentStateLocked() State {
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.config.ResetTimeout {
		b.transitionLocked(StateHalfOpen)
		b.halfOpenInUse = 0
	}
	return b.state
}

// maybeResetMonitoringWindowLocked clears the closed-state failure
// counter once MonitoringPeriod has elapsed, so sparse, non-consecutive
// failures never silently accumulate toward the trip threshold
// (spec.md §4.1).
func (b *Breaker) maybeResetMonitoringWindowLocked() {
	if b.config.MonitoringPeriod <= 0 || b.state != StateClosed {
		return
	}
	if time.Since(b.monitorWindowAt) >= b.config.MonitoringPeriod {
		b.failures = 0
		b.monitorWindowAt = time.Now()
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}
