package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/metrics"
	"argus/util/goroutine"
)

var (
	// ErrWorkerPoolNotRunning is returned by Submit before Start or after Stop.
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	// ErrWorkerPoolQueueFull is returned when the task queue has no room.
	ErrWorkerPoolQueueFull = errors.New("worker pool task queue is full")
)

// workerStopTimeout bounds how long Stop waits for in-flight tasks.
const workerStopTimeout = 30 * time.Second

// WorkerPool runs submitted tasks on a fixed set of goroutines with a
// bounded queue. Submit never blocks: when the queue is full the task is
// rejected and the caller decides whether that matters.
type WorkerPool struct {
	name      string
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.RWMutex
	running bool
}

// NewWorkerPool builds a pool of workers draining a queue of queueSize
// tasks. Workers do not run until Start is called. Cancelling parentCtx
// stops the workers the same way Stop does, minus the drain wait.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, name string, logger *zap.SugaredLogger) *WorkerPool {
	if name == "" {
		name = "default"
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Calling Start on a running pool is
// a no-op.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true

	wp.logger.Infow("Starting worker pool",
		"pool", wp.name,
		"workers", wp.workers,
		"queue_size", wp.queueSize)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop rejects further submissions and waits for queued tasks to drain, up
// to workerStopTimeout. On timeout the remaining workers are abandoned and
// an error is logged.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}
	wp.running = false

	wp.logger.Infow("Stopping worker pool", "pool", wp.name)

	// Closing the queue first lets workers finish what is already enqueued.
	// The context is cancelled only after the drain completes or times out.
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.name)
	case <-time.After(workerStopTimeout):
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines abandoned",
			"pool", wp.name,
			"workers", wp.workers)
	}
	wp.cancel()
}

// Submit queues a task for execution. It returns ErrWorkerPoolQueueFull
// rather than blocking when the queue is at capacity.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueDepth.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// WorkerPoolStats is a point-in-time snapshot of pool state.
type WorkerPoolStats struct {
	Name        string `json:"name"`
	Workers     int    `json:"workers"`
	Running     bool   `json:"running"`
	QueuedTasks int    `json:"queued_tasks"`
	Capacity    int    `json:"capacity"`
}

// Stats reports the pool's current occupancy.
func (wp *WorkerPool) Stats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Name:        wp.name,
		Workers:     wp.workers,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
		Capacity:    cap(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.name, wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			wp.runTask(id, task)
			metrics.WorkerPoolQueueDepth.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		}
	}
}

// runTask executes one task. A panicking task is logged and the worker
// keeps serving the queue.
func (wp *WorkerPool) runTask(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Task panicked in worker pool",
				"pool", wp.name,
				"worker_id", id,
				"panic", r)
		}
	}()
	task()
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.name).Inc()
}
