package resilience

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	closed int32
}

func (c *fakeConn) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}

func newCountingFactory() (Factory, *int32) {
	var created int32
	var next int32
	factory := func(ctx context.Context) (Conn, error) {
		atomic.AddInt32(&created, 1)
		id := atomic.AddInt32(&next, 1)
		return &fakeConn{id: int(id)}, nil
	}
	return factory, &created
}

func TestPoolAcquireCreatesUpToMaxSize(t *testing.T) {
	factory, created := newCountingFactory()
	p := NewPool(factory, PoolConfig{MaxSize: 2, AcquireTimeout: 50 * time.Millisecond, IdleTimeout: time.Hour})
	defer p.Shutdown()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(created))

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)

	p.Release(c1, false)
	p.Release(c2, false)
}

func TestPoolReleaseReusesConnection(t *testing.T) {
	factory, created := newCountingFactory()
	p := NewPool(factory, PoolConfig{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond, IdleTimeout: time.Hour})
	defer p.Shutdown()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1, false)

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(created), "second acquire must reuse the released connection")
	require.Same(t, c1, c2)
}

func TestPoolReleaseBrokenDropsAndAllowsRecreate(t *testing.T) {
	factory, created := newCountingFactory()
	p := NewPool(factory, PoolConfig{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond, IdleTimeout: time.Hour})
	defer p.Shutdown()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1, true)
	require.Equal(t, int32(1), c1.(*fakeConn).closed)

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(created), "a broken connection must be replaced, not reused")
	p.Release(c2, false)
}

func TestPoolWaitersServedFIFO(t *testing.T) {
	factory, _ := newCountingFactory()
	p := NewPool(factory, PoolConfig{MaxSize: 1, AcquireTimeout: time.Second, IdleTimeout: time.Hour})
	defer p.Shutdown()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 2)
	go func() {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		order <- 1
		p.Release(c, false)
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		order <- 2
		p.Release(c, false)
	}()
	time.Sleep(10 * time.Millisecond)

	p.Release(c1, false)

	require.Equal(t, 1, <-order)
	require.Equal(t, 2, <-order)
}

func TestPoolShutdownClosesIdleAndFailsWaiters(t *testing.T) {
	factory, _ := newCountingFactory()
	p := NewPool(factory, PoolConfig{MaxSize: 1, AcquireTimeout: time.Second, IdleTimeout: time.Hour})

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1, false)

	p.Shutdown()
	require.Equal(t, int32(1), c1.(*fakeConn).closed)

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolWarmsUpMinSizeEagerly(t *testing.T) {
	factory, created := newCountingFactory()
	p := NewPool(factory, PoolConfig{MinSize: 2, MaxSize: 4, AcquireTimeout: time.Second, IdleTimeout: time.Hour})
	defer p.Shutdown()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(created) == 2 && p.Stats().Idle == 2
	}, time.Second, 10*time.Millisecond, "NewPool must eagerly dial MinSize connections")
}

func TestPoolSweepClosesIdleBeyondTimeout(t *testing.T) {
	factory, _ := newCountingFactory()
	p := NewPool(factory, PoolConfig{MaxSize: 2, MinSize: 0, AcquireTimeout: time.Second, IdleTimeout: 20 * time.Millisecond})
	defer p.Shutdown()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1, false)

	require.Eventually(t, func() bool {
		return p.Stats().Idle == 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), c1.(*fakeConn).closed)
}
