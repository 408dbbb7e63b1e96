package sandbox

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
)

// WorkerPool runs plugin executions on a fixed set of goroutines with a
// bounded queue, apart from the API's request goroutines
type WorkerPool struct {
	tasks   chan func()
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool starts workers goroutines behind a queue of queueSize
func NewWorkerPool(workers, queueSize int, logger *zap.Logger, metrics *monitoring.Metrics) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &WorkerPool{
		tasks:   make(chan func(), queueSize),
		logger:  logger.Named("workers"),
		metrics: metrics,
	}
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

func (w *WorkerPool) run() {
	defer w.wg.Done()
	for task := range w.tasks {
		w.metrics.SetQueueDepth(len(w.tasks))
		w.safely(task)
	}
}

// safely keeps a panicking task from killing its worker
func (w *WorkerPool) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Worker task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Submit queues task without blocking. It fails with ErrQueueFull when
// every worker is busy and the queue is full.
func (w *WorkerPool) Submit(task func()) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWorkersClosed
	}
	select {
	case w.tasks <- task:
		w.metrics.SetQueueDepth(len(w.tasks))
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of tasks waiting for a worker
func (w *WorkerPool) QueueDepth() int {
	return len(w.tasks)
}

// Close stops accepting tasks and waits for queued ones to finish
func (w *WorkerPool) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.tasks)
	w.mu.Unlock()

	w.wg.Wait()
}
