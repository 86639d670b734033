package resilience

import "fmt"

// Kind is the error taxonomy of spec.md §7. It classifies failures
// from a downstream call for retry and circuit-breaker decisions; it
// is not a Go error type hierarchy, just a tag carried by CallError.
type Kind string

const (
	KindValidation         Kind = "Validation"
	KindNotFound           Kind = "NotFound"
	KindOverloaded         Kind = "Overloaded"
	KindTimeout            Kind = "Timeout"
	KindNetworkUnavailable Kind = "NetworkUnavailable"
	KindHTTP5xx            Kind = "Http5xx"
	KindRemote             Kind = "Remote"
	KindCircuitOpen        Kind = "CircuitOpen"
	KindConnectionClosed   Kind = "ConnectionClosed"
	KindPoolShutdown       Kind = "PoolShutdown"
	KindDeadlock           Kind = "Deadlock"
	KindCancelled          Kind = "Cancelled"
)

// Retryable reports whether a call classified with this kind should be
// retried within a step's retry budget (spec.md §7 propagation
// policy).
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetworkUnavailable, KindHTTP5xx, KindConnectionClosed:
		return true
	default:
		return false
	}
}

// CallError wraps a downstream call failure with its taxonomy Kind.
type CallError struct {
	Kind    Kind
	Service string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError builds a CallError, the constructor transport adapters
// use to tag a raw transport/JSON-RPC failure with a taxonomy kind.
func NewCallError(service string, kind Kind, err error) *CallError {
	return &CallError{Kind: kind, Service: service, Err: err}
}
