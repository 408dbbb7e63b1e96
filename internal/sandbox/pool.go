package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
)

// Origin tells pooled contexts apart from caller-owned fresh ones
type Origin string

const (
	OriginPooled Origin = "pooled"
	OriginFresh  Origin = "fresh"
)

// PooledContext is an interpreter context checked out to one execution
type PooledContext struct {
	Context
	Origin  Origin
	Bound   bool
	Created time.Time
	Uses    int
}

// PoolConfig bounds and tunes a Pool
type PoolConfig struct {
	Warm            int
	MaxSize         int
	AcquireTimeout  time.Duration
	MaxAge          time.Duration
	CleanupInterval time.Duration
}

// DefaultPoolConfig returns the deployment defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Warm:            4,
		MaxSize:         10,
		AcquireTimeout:  30 * time.Second,
		MaxAge:          15 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// PoolStats is a point-in-time view of a pool
type PoolStats struct {
	Language      string `json:"language"`
	MaxSize       int    `json:"max_size"`
	Idle          int    `json:"idle"`
	InUse         int    `json:"in_use"`
	Created       int64  `json:"created"`
	Destroyed     int64  `json:"destroyed"`
	Reused        int64  `json:"reused"`
	ResetFailures int64  `json:"reset_failures"`
	Fresh         int64  `json:"fresh"`
	Closed        bool   `json:"closed"`
}

// Pool manages warm, reusable interpreter contexts for one engine.
// The number of live pooled contexts never exceeds MaxSize.
type Pool struct {
	engine  Engine
	config  PoolConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics

	live  *semaphore.Weighted
	idle  chan *PooledContext
	freed chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	inUse  atomic.Int64

	created       atomic.Int64
	destroyed     atomic.Int64
	reused        atomic.Int64
	resetFailures atomic.Int64
	fresh         atomic.Int64

	janitor sync.WaitGroup
}

// NewPool creates a pool and starts its janitor. Call Warmup to create
// the warm contexts eagerly.
func NewPool(engine Engine, config PoolConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Pool {
	defaults := DefaultPoolConfig()
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.Warm > config.MaxSize {
		config.Warm = config.MaxSize
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		engine:  engine,
		config:  config,
		logger:  logger.Named("pool").With(zap.String("language", string(engine.Language()))),
		metrics: metrics,
		live:    semaphore.NewWeighted(int64(config.MaxSize)),
		idle:    make(chan *PooledContext, config.MaxSize),
		freed:   make(chan struct{}, config.MaxSize),
		done:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 && config.MaxAge > 0 {
		p.janitor.Add(1)
		go p.cleanupLoop()
	}
	return p
}

// Warmup creates the configured number of warm contexts concurrently
func (p *Pool) Warmup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i := 0; i < p.config.Warm; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !p.live.TryAcquire(1) {
				return nil
			}
			pc, err := p.create(OriginPooled)
			if err != nil {
				p.live.Release(1)
				return err
			}
			p.putIdle(pc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to warm %s pool: %w", p.engine.Language(), err)
	}
	p.logger.Info("Context pool warmed", zap.Int("contexts", len(p.idle)))
	p.report()
	return nil
}

// Acquire returns a warm context when one is free, otherwise creates
// one while below MaxSize, otherwise waits for a release.
func (p *Pool) Acquire(ctx context.Context) (*PooledContext, error) {
	start := time.Now()
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}

		select {
		case pc := <-p.idle:
			if pc = p.checkout(pc); pc != nil {
				p.metrics.ObservePoolAcquire(string(p.engine.Language()), time.Since(start))
				return pc, nil
			}
			continue
		default:
		}

		if p.live.TryAcquire(1) {
			pc, err := p.create(OriginPooled)
			if err != nil {
				p.live.Release(1)
				return nil, err
			}
			p.inUse.Add(1)
			p.report()
			p.metrics.ObservePoolAcquire(string(p.engine.Language()), time.Since(start))
			return pc, nil
		}

		select {
		case pc := <-p.idle:
			if pc = p.checkout(pc); pc != nil {
				p.metrics.ObservePoolAcquire(string(p.engine.Language()), time.Since(start))
				return pc, nil
			}
		case <-p.freed:
		case <-p.done:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			p.metrics.RecordPoolEvent(string(p.engine.Language()), "acquire_timeout")
			return nil, ErrAcquireTimeout
		}
	}
}

// checkout hands an idle context out, or destroys it and returns nil
// when it has expired
func (p *Pool) checkout(pc *PooledContext) *PooledContext {
	if p.expired(pc) {
		p.destroy(pc, "expired")
		return nil
	}
	pc.Uses++
	p.inUse.Add(1)
	p.reused.Add(1)
	p.metrics.RecordPoolEvent(string(p.engine.Language()), "reused")
	p.report()
	return pc
}

// Release resets a context and returns it to the pool. A context that
// cannot be reset is destroyed. Fresh contexts are always closed.
func (p *Pool) Release(pc *PooledContext) {
	if pc == nil {
		return
	}
	if pc.Origin == OriginFresh {
		p.closeFresh(pc)
		return
	}
	p.inUse.Add(-1)
	pc.Bound = false

	if p.isClosed() {
		p.destroy(pc, "pool closed")
		return
	}
	if p.expired(pc) {
		p.destroy(pc, "expired")
		return
	}
	if err := pc.Reset(); err != nil {
		p.resetFailures.Add(1)
		p.logger.Warn("Context reset failed, destroying", zap.Error(err))
		p.destroy(pc, "reset failed")
		return
	}
	p.putIdle(pc)
	p.report()
}

// Discard destroys a checked-out context without recycling it
func (p *Pool) Discard(pc *PooledContext, reason string) {
	if pc == nil {
		return
	}
	if pc.Origin == OriginFresh {
		p.closeFresh(pc)
		return
	}
	p.inUse.Add(-1)
	p.destroy(pc, reason)
}

// CreateFresh returns a caller-owned context that the pool never tracks
// or recycles. It is not bounded by MaxSize.
func (p *Pool) CreateFresh() (*PooledContext, error) {
	pc, err := p.create(OriginFresh)
	if err != nil {
		return nil, err
	}
	p.fresh.Add(1)
	return pc, nil
}

func (p *Pool) create(origin Origin) (*PooledContext, error) {
	c, err := p.engine.NewContext()
	if err != nil {
		p.metrics.RecordPoolEvent(string(p.engine.Language()), "create_failed")
		return nil, fmt.Errorf("failed to create %s context: %w", p.engine.Language(), err)
	}
	if origin == OriginPooled {
		p.created.Add(1)
	}
	p.metrics.RecordPoolEvent(string(p.engine.Language()), "created_"+string(origin))
	return &PooledContext{Context: c, Origin: origin, Created: time.Now()}, nil
}

func (p *Pool) putIdle(pc *PooledContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go p.destroy(pc, "pool closed")
		return
	}
	// capacity equals MaxSize and every pooled context holds a live
	// token, so this send never blocks
	p.idle <- pc
}

func (p *Pool) destroy(pc *PooledContext, reason string) {
	if err := pc.Close(); err != nil {
		p.logger.Debug("Context close failed", zap.Error(err))
	}
	p.live.Release(1)
	p.destroyed.Add(1)
	p.metrics.RecordPoolEvent(string(p.engine.Language()), "destroyed")
	p.logger.Debug("Context destroyed", zap.String("reason", reason), zap.Int("uses", pc.Uses))

	select {
	case p.freed <- struct{}{}:
	default:
	}
	p.report()
}

func (p *Pool) closeFresh(pc *PooledContext) {
	if err := pc.Close(); err != nil {
		p.logger.Debug("Fresh context close failed", zap.Error(err))
	}
}

func (p *Pool) expired(pc *PooledContext) bool {
	return p.config.MaxAge > 0 && time.Since(pc.Created) > p.config.MaxAge
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// cleanupLoop evicts idle contexts older than MaxAge
func (p *Pool) cleanupLoop() {
	defer p.janitor.Done()
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictExpired()
		}
	}
}

func (p *Pool) evictExpired() {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		select {
		case pc := <-p.idle:
			if p.expired(pc) {
				p.destroy(pc, "expired")
				continue
			}
			p.putIdle(pc)
		default:
			return
		}
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Language:      string(p.engine.Language()),
		MaxSize:       p.config.MaxSize,
		Idle:          len(p.idle),
		InUse:         int(p.inUse.Load()),
		Created:       p.created.Load(),
		Destroyed:     p.destroyed.Load(),
		Reused:        p.reused.Load(),
		ResetFailures: p.resetFailures.Load(),
		Fresh:         p.fresh.Load(),
		Closed:        p.isClosed(),
	}
}

func (p *Pool) report() {
	p.metrics.SetPoolContexts(string(p.engine.Language()), len(p.idle), int(p.inUse.Load()))
}

// Close stops the janitor and destroys every idle context. Contexts
// still checked out are destroyed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.janitor.Wait()
	for {
		select {
		case pc := <-p.idle:
			p.destroy(pc, "pool closed")
		default:
			p.logger.Info("Context pool closed")
			return nil
		}
	}
}
