package resilience

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// ErrPoolClosed is returned by Acquire once the pool has been shut
// down.
var ErrPoolClosed = errors.New("resilience: connection pool is closed")

// ErrAcquireTimeout is returned when no connection becomes available
// before PoolConfig.AcquireTimeout elapses.
var ErrAcquireTimeout = errors.New("resilience: timed out acquiring a connection")

// Conn is anything the pool can hold a reference to and eventually
// close (spec.md §4.2: an HTTP keep-alive connection or a subprocess
// handle).
type Conn interface {
	Close() error
}

// Factory creates a new Conn on demand.
type Factory func(ctx context.Context) (Conn, error)

// PoolConfig shapes a Pool (spec.md §3 PoolConfig).
type PoolConfig struct {
	MinSize        int
	MaxSize        int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

func (c *PoolConfig) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

type pooledConn struct {
	conn     Conn
	lastUsed time.Time
}

type waiter struct {
	ch chan acquireResult
}

type acquireResult struct {
	conn Conn
	err  error
}

// Pool is a bounded, FIFO-fair pool of reusable downstream connections
// (spec.md §4.2). Waiters are served strictly in arrival order: a
// connection released while waiters are queued goes straight to the
// oldest waiter rather than back onto the idle list.
type Pool struct {
	factory Factory
	config  PoolConfig

	mu      sync.Mutex
	idle    []*pooledConn
	numOpen int
	waiters *list.List // of *waiter
	closed  bool
	stopSwp chan struct{}
	swpDone chan struct{}
}

// NewPool builds a Pool backed by factory, eagerly creating MinSize
// connections in the background and starting the idle-sweep loop. Warm-up
// runs asynchronously so a downstream that is briefly unreachable at
// startup doesn't block construction; a failed warm-up dial simply leaves
// the pool to fill lazily on the next Acquire.
func NewPool(factory Factory, config PoolConfig) *Pool {
	config.applyDefaults()
	p := &Pool{
		factory: factory,
		config:  config,
		waiters: list.New(),
		stopSwp: make(chan struct{}),
		swpDone: make(chan struct{}),
	}
	go p.sweepLoop()
	if config.MinSize > 0 {
		go p.warmUp()
	}
	return p
}

// warmUp dials up to config.MinSize connections and parks them on the
// idle list so early Acquire calls don't pay a cold-dial cost.
func (p *Pool) warmUp() {
	for i := 0; i < p.config.MinSize; i++ {
		p.mu.Lock()
		if p.closed || p.numOpen >= p.config.MaxSize {
			p.mu.Unlock()
			return
		}
		p.numOpen++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.config.AcquireTimeout)
		conn, err := p.factory(ctx)
		cancel()

		p.mu.Lock()
		if err != nil {
			p.numOpen--
			p.mu.Unlock()
			logging.Warn("resilience: pool warm-up dial failed: %v", err)
			return
		}
		if p.closed {
			p.numOpen--
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.idle = append(p.idle, &pooledConn{conn: conn, lastUsed: time.Now()})
		p.mu.Unlock()
	}
}

// Acquire returns a connection, creating one if under MaxSize,
// otherwise waiting in FIFO order up to AcquireTimeout/ctx.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return pc.conn, nil
	}

	if p.numOpen < p.config.MaxSize {
		p.numOpen++
		p.mu.Unlock()
		conn, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.mu.Unlock()
			return nil, err
		}
		return conn, nil
	}

	w := &waiter{ch: make(chan acquireResult, 1)}
	p.waiters.PushBack(w)
	p.mu.Unlock()

	timeout := p.config.AcquireTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.conn, res.err
	case <-timer.C:
		p.removeWaiter(w)
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, ctx.Err()
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e.Value.(*waiter) == target {
			p.waiters.Remove(e)
			return
		}
	}
}

// Release returns conn to the pool. Pass broken=true when the caller
// detected conn is dead (spec.md §9 open question 4): the pool drops it
// and decrements numOpen so a subsequent Acquire creates a replacement
// instead of handing out the broken connection again.
func (p *Pool) Release(conn Conn, broken bool) {
	p.mu.Lock()

	if broken || p.closed {
		p.numOpen--
		p.mu.Unlock()
		conn.Close()
		return
	}

	if e := p.waiters.Front(); e != nil {
		w := e.Value.(*waiter)
		p.waiters.Remove(e)
		p.mu.Unlock()
		w.ch <- acquireResult{conn: conn}
		return
	}

	p.idle = append(p.idle, &pooledConn{conn: conn, lastUsed: time.Now()})
	p.mu.Unlock()
}

// Shutdown closes every idle connection, fails all queued waiters, and
// stops the sweep loop. In-flight leased connections are closed as
// they are Released afterward.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).ch <- acquireResult{err: ErrPoolClosed}
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, pc := range idle {
		pc.conn.Close()
	}
	close(p.stopSwp)
	<-p.swpDone
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Idle    int
	Open    int
	Waiting int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Open: p.numOpen, Waiting: p.waiters.Len()}
}

func (p *Pool) sweepLoop() {
	defer close(p.swpDone)
	ticker := time.NewTicker(p.config.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSwp:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	cutoff := time.Now().Add(-p.config.IdleTimeout)
	kept := p.idle[:0]
	var toClose []*pooledConn
	for _, pc := range p.idle {
		if pc.lastUsed.Before(cutoff) && p.numOpen > p.config.MinSize {
			toClose = append(toClose, pc)
			p.numOpen--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, pc := range toClose {
		pc.conn.Close()
	}
}
