package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoolConfig(max int) PoolConfig {
	return PoolConfig{MaxSize: max, AcquireTimeout: time.Second}
}

func TestPoolWarmup(t *testing.T) {
	engine := newFakeEngine(nil)
	pool := NewPool(engine, PoolConfig{Warm: 3, MaxSize: 5, AcquireTimeout: time.Second}, nil, nil)
	defer pool.Close()

	require.NoError(t, pool.Warmup(context.Background()))
	stats := pool.Stats()
	assert.Equal(t, 3, stats.Idle)
	assert.Equal(t, int64(3), stats.Created)
}

func TestPoolWarmupFailure(t *testing.T) {
	engine := newFakeEngine(nil)
	engine.failNew = errors.New("interpreter unavailable")
	pool := NewPool(engine, PoolConfig{Warm: 2, MaxSize: 2}, nil, nil)
	defer pool.Close()

	err := pool.Warmup(context.Background())
	assert.ErrorContains(t, err, "interpreter unavailable")
}

func TestPoolReusesReleasedContext(t *testing.T) {
	engine := newFakeEngine(nil)
	pool := NewPool(engine, testPoolConfig(1), nil, nil)
	defer pool.Close()

	for i := 0; i < 5; i++ {
		pc, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		fc := pc.Context.(*fakeContext)
		assert.Empty(t, fc.globals, "globals leaked into acquisition %d", i)
		fc.globals["leak"] = i
		pool.Release(pc)
	}

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(4), stats.Reused)
	assert.Equal(t, 0, stats.InUse)
}

func TestPoolDestroysContextThatCannotReset(t *testing.T) {
	engine := newFakeEngine(nil)
	engine.failReset = true
	pool := NewPool(engine, testPoolConfig(1), nil, nil)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(pc)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, int64(1), stats.ResetFailures)
	assert.Equal(t, int64(1), stats.Destroyed)

	// the freed slot is reusable
	pc, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(pc, "test")
	assert.Equal(t, int64(2), engine.created.Load())
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	pool := NewPool(newFakeEngine(nil), PoolConfig{MaxSize: 1, AcquireTimeout: 30 * time.Millisecond}, nil, nil)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(pc)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	pool := NewPool(newFakeEngine(nil), testPoolConfig(1), nil, nil)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(pc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolWaiterWakesOnReleaseAndDiscard(t *testing.T) {
	for _, discard := range []bool{false, true} {
		pool := NewPool(newFakeEngine(nil), testPoolConfig(1), nil, nil)

		pc, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		got := make(chan error, 1)
		go func() {
			next, err := pool.Acquire(context.Background())
			if err == nil {
				pool.Release(next)
			}
			got <- err
		}()

		time.Sleep(10 * time.Millisecond)
		if discard {
			pool.Discard(pc, "test")
		} else {
			pool.Release(pc)
		}

		select {
		case err := <-got:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
		pool.Close()
	}
}

func TestPoolNeverExceedsMaxSize(t *testing.T) {
	engine := newFakeEngine(nil)
	pool := NewPool(engine, testPoolConfig(3), nil, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := pool.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			assert.LessOrEqual(t, pool.Stats().InUse, 3)
			time.Sleep(time.Millisecond)
			pool.Release(pc)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, engine.created.Load(), int64(3))
}

func TestPoolCreateFreshIsUntracked(t *testing.T) {
	engine := newFakeEngine(nil)
	pool := NewPool(engine, testPoolConfig(1), nil, nil)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	fresh, err := pool.CreateFresh()
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, fresh.Origin)
	pool.Release(fresh)

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Fresh)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, int64(1), engine.closed.Load())
}

func TestPoolEvictsExpiredContexts(t *testing.T) {
	engine := newFakeEngine(nil)
	pool := NewPool(engine, PoolConfig{
		Warm:            2,
		MaxSize:         2,
		AcquireTimeout:  time.Second,
		MaxAge:          20 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	}, nil, nil)
	defer pool.Close()

	require.NoError(t, pool.Warmup(context.Background()))
	assert.Eventually(t, func() bool {
		return pool.Stats().Destroyed == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pool.Stats().Idle)
}

func TestPoolClose(t *testing.T) {
	engine := newFakeEngine(nil)
	pool := NewPool(engine, PoolConfig{Warm: 2, MaxSize: 3, AcquireTimeout: time.Second}, nil, nil)
	require.NoError(t, pool.Warmup(context.Background()))

	out, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.Equal(t, int64(1), engine.closed.Load())

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	pool.Release(out)
	assert.Equal(t, int64(2), engine.closed.Load())
	assert.True(t, pool.Stats().Closed)
}
