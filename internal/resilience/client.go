package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/station-mesh/orchestrator/internal/registry"
)

// Client is the Resilient Client for one downstream service (spec.md
// §4.2): every call is wrapped by a retry loop, each attempt guarded by
// a circuit breaker, each attempt's connection leased from a pool.
type Client struct {
	serviceName string
	endpoint    registry.Endpoint
	breaker     *Breaker
	retry       *Retry
	pool        *Pool
	nextID      int64
}

// NewClient builds a Resilient Client for endpoint. breakerConfig and
// retryConfig should already reflect the descriptor's overrides merged
// over the configured defaults (spec.md §3).
func NewClient(serviceName string, endpoint registry.Endpoint, breakerConfig BreakerConfig, retryConfig RetryConfig, poolConfig PoolConfig) *Client {
	c := &Client{
		serviceName: serviceName,
		endpoint:    endpoint,
	}
	breakerConfig.IsFailure = isBreakerFailure
	c.breaker = NewBreaker(serviceName, breakerConfig)

	retryConfig.RetryIf = isRetryable
	c.retry = NewRetry(retryConfig)

	c.pool = NewPool(c.dial, poolConfig)
	return c
}

func isBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case KindRemote, KindValidation, KindNotFound:
			return false // downstream answered; not a breaker-relevant failure
		}
	}
	return true
}

func isRetryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind.Retryable()
	}
	return !errors.Is(err, ErrCircuitOpen)
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	switch c.endpoint.Transport {
	case registry.TransportHTTP:
		return newHTTPConn(c.endpoint.URL, c.endpoint.Headers, c.endpoint.Timeout), nil
	case registry.TransportSubprocess:
		return newSubprocessConn(ctx, c.endpoint.Command, c.endpoint.Args)
	default:
		return nil, NewCallError(c.serviceName, KindValidation, fmt.Errorf("unsupported transport %q", c.endpoint.Transport))
	}
}

// CallTool invokes tool on the downstream service and returns only the
// call's error; the JSON-RPC result is discarded (use Call to get it).
func (c *Client) CallTool(ctx context.Context, serviceName, tool string, args map[string]any) error {
	_, err := c.Call(ctx, tool, args)
	return err
}

// Call invokes tool and returns its raw JSON-RPC result.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	var result json.RawMessage

	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			conn, err := c.pool.Acquire(ctx)
			if err != nil {
				if errors.Is(err, ErrPoolClosed) {
					return NewCallError(c.serviceName, KindPoolShutdown, err)
				}
				if errors.Is(err, ErrAcquireTimeout) {
					return NewCallError(c.serviceName, KindOverloaded, err)
				}
				return err
			}

			resp, sendErr := c.sendOn(ctx, conn, tool, args)
			broken := connIsBroken(sendErr)
			c.pool.Release(conn, broken)

			if sendErr != nil {
				return sendErr
			}
			if resp.Error != nil {
				return NewCallError(c.serviceName, KindRemote, fmt.Errorf("%d: %s", resp.Error.Code, resp.Error.Message))
			}
			result = resp.Result
			return nil
		})
	})

	if err != nil {
		return nil, taggedWithService(c.serviceName, err)
	}
	return result, nil
}

func (c *Client) sendOn(ctx context.Context, conn Conn, tool string, args map[string]any) (*jsonrpcResponse, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := newToolCallRequest(id, tool, args)

	switch conn := conn.(type) {
	case *httpConn:
		return conn.send(ctx, req)
	case *subprocessConn:
		return conn.send(ctx, req)
	default:
		return nil, NewCallError(c.serviceName, KindValidation, fmt.Errorf("unknown connection type %T", conn))
	}
}

func connIsBroken(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind == KindConnectionClosed
	}
	return false
}

func taggedWithService(name string, err error) error {
	var ce *CallError
	if errors.As(err, &ce) && ce.Service == "" {
		ce.Service = name
	}
	if errors.Is(err, ErrCircuitOpen) {
		return NewCallError(name, KindCircuitOpen, err)
	}
	return err
}

// BreakerHandle exposes the underlying circuit breaker for manual
// trip/reset operations and metrics (spec.md §6).
func (c *Client) BreakerHandle() *Breaker { return c.breaker }

// Shutdown releases pooled connections.
func (c *Client) Shutdown() { c.pool.Shutdown() }
