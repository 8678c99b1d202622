// Package worker runs queued jobs on a fixed pool of goroutines, dispatching
// each job to the handler registered for its kind.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/scoreingest/internal/adapters/mq/queue"
	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Handler runs one job payload. A non-nil error marks the attempt failed
// and lets the queue retry it; result is kept as the outcome either way.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Queue defines how workers receive jobs and report on them.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
	Complete(ctx context.Context, job queue.Job, result json.RawMessage) error
	Fail(ctx context.Context, job queue.Job, result json.RawMessage, cause error, retry bool) error
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker once its current job is done.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for one goroutine of the pool.
type InMemoryWorker struct {
	queue      Queue
	handlers   map[string]Handler
	name       string
	jobTimeout time.Duration
	processed  *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, handlers map[string]Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		handlers:  handlers,
		name:      "worker",
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	// Cancelling on exit releases the dequeue goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job and reports its outcome. A panic fails only this
// job, finally.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	metrics.AddWorkerActiveJobs(1)
	defer func() {
		metrics.AddWorkerActiveJobs(-1)
		metrics.RecordWorkerJobLatency(float64(time.Since(start).Milliseconds()))
		w.processed.Add(1)
	}()

	log := w.logger.With(
		logger.String("jobID", job.ID),
		logger.String("kind", job.Kind),
		logger.Int("attempt", job.Attempt),
	)

	handler, ok := w.handlers[job.Kind]
	if !ok {
		metrics.RecordWorkerFailure()
		log.Error(ctx, "no handler for job kind")
		w.report(ctx, log, w.queue.Fail(ctx, job, nil, fmt.Errorf("%w: %q", ErrUnknownKind, job.Kind), false))
		return
	}

	result, err, panicked := w.invoke(ctx, handler, job.Payload)
	switch {
	case panicked:
		metrics.RecordWorkerPanic()
		metrics.RecordErrorByComponent("worker", "panic")
		log.Error(ctx, "job panicked", logger.Error(err))
		w.report(ctx, log, w.queue.Fail(ctx, job, result, err, false))
	case err != nil:
		metrics.RecordWorkerFailure()
		metrics.RecordErrorByComponent("worker", "job_error")
		log.Warn(ctx, "job attempt failed", logger.Error(err))
		w.report(ctx, log, w.queue.Fail(ctx, job, result, err, true))
	default:
		w.report(ctx, log, w.queue.Complete(ctx, job, result))
	}
}

func (w *InMemoryWorker) invoke(ctx context.Context, h Handler, payload json.RawMessage) (result json.RawMessage, err error, panicked bool) { //nolint:revive // error is not last to keep panicked a separate signal
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			result, panicked = nil, true
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	result, err = h(ctx, payload)
	return result, err, false
}

func (w *InMemoryWorker) report(ctx context.Context, log logger.Logger, err error) {
	if err != nil {
		log.Error(ctx, "could not record job outcome", logger.Error(err))
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed *atomic.Int64

	shutdown chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool

	lastProcessedTime time.Time
	lastProcessed     int64

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers sharing handlers. A
// non-positive count uses a multiple of the CPU count.
func NewPool(workerCount int, q Queue, handlers map[string]Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:           make([]*InMemoryWorker, workerCount),
		queue:             q,
		processed:         new(atomic.Int64),
		shutdown:          make(chan struct{}),
		lastProcessedTime: time.Now(),
		logger:            logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, handlers, workerOpts...)
		w.processed = pool.processed
		pool.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of jobs the pool has handled.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics(ctx)
		}
	}
}

func (p *Pool) updateMetrics(ctx context.Context) {
	now := time.Now()
	total := p.processed.Load()
	if secs := now.Sub(p.lastProcessedTime).Seconds(); secs > 0 {
		p.logger.Debug(ctx, "worker throughput",
			logger.Float64("jobsPerSecond", float64(total-p.lastProcessed)/secs),
		)
	}
	p.lastProcessed = total
	p.lastProcessedTime = now
}

// Shutdown stops all workers, waiting for in-flight jobs up to ctx's
// deadline. The queue is left open; its owner closes it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(p.shutdown)
	if !p.started.Load() {
		metrics.UpdateWorkerCount(0)
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
