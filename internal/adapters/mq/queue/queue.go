// Package queue defines the job queue contract and an in-memory
// implementation: id-keyed idempotent enqueue, FIFO delivery, retries,
// completion signals and repeatable scheduled jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity   = 10000
	defaultMaxAttempts     = 3
	defaultRetryDelay      = 100 * time.Millisecond
	defaultResultRetention = 10 * time.Minute
)

// Job is one unit of work. ID is the idempotency key.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	AttemptID  string          `json:"attemptID"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Outcome is the final state of a job.
type Outcome struct {
	JobID    string          `json:"jobID"`
	Attempts int             `json:"attempts"`
	Result   json.RawMessage `json:"result,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// Queue provides idempotent enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds job unless a job with its ID is already known, in which
	// case it returns false and no error.
	Enqueue(ctx context.Context, job Job) (bool, error)

	// Dequeue returns a channel that receives jobs as they become available.
	// The channel is closed when the queue is closed or ctx is done.
	Dequeue(ctx context.Context) <-chan Job

	// Complete records job's final result.
	Complete(ctx context.Context, job Job, result json.RawMessage) error

	// Fail records a failed attempt. A retryable failure is re-queued while
	// attempts remain; otherwise result (which may be nil) becomes final.
	Fail(ctx context.Context, job Job, result json.RawMessage, cause error, retry bool) error

	// Await blocks until jobID has an outcome.
	Await(ctx context.Context, jobID string) (Outcome, error)

	// Len returns the number of jobs waiting for a worker.
	Len(ctx context.Context) int

	// Close stops accepting jobs and closes the dequeue channels.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

type entry struct {
	done       chan struct{}
	outcome    Outcome
	finishedAt time.Time
}

func (e *entry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs            chan Job
	capacity        int
	maxAttempts     int
	retryDelay      time.Duration
	resultRetention time.Duration
	logger          logger.Logger
	now             func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:        defaultQueueCapacity,
		maxAttempts:     defaultMaxAttempts,
		retryDelay:      defaultRetryDelay,
		resultRetention: defaultResultRetention,
		logger:          logger.Nop(),
		now:             time.Now,
		entries:         make(map[string]*entry),
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	if job.ID == "" {
		return false, ErrMissingID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return false, ErrClosed
	}
	q.pruneLocked()
	if _, ok := q.entries[job.ID]; ok {
		metrics.RecordQueueRejected("duplicate")
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return false, err
	}

	job.Attempt = 1
	job.AttemptID = uuid.NewString()
	job.EnqueuedAt = q.now()
	select {
	case q.jobs <- job:
	default:
		metrics.RecordQueueRejected("queue_full")
		return false, ErrFull
	}
	q.entries[job.ID] = &entry{done: make(chan struct{})}
	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueSize(len(q.jobs))
	return true, nil
}

// Dequeue returns a channel that will receive jobs as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- job:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.jobs))
				case <-ctx.Done():
					q.finish(job.ID, Outcome{JobID: job.ID, Attempts: job.Attempt, Err: "dequeue cancelled"})
					return
				}
			}
		}
	}()
	return out
}

// Complete records a final result.
func (q *InMemoryQueue) Complete(_ context.Context, job Job, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[job.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.ID)
	}
	q.finishLocked(job.ID, Outcome{JobID: job.ID, Attempts: job.Attempt, Result: result})
	return nil
}

// Fail records a failed attempt and schedules a retry when allowed.
func (q *InMemoryQueue) Fail(_ context.Context, job Job, result json.RawMessage, cause error, retry bool) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if !retry || job.Attempt >= q.maxAttempts {
		q.finish(job.ID, Outcome{JobID: job.ID, Attempts: job.Attempt, Result: result, Err: msg})
		return nil
	}

	q.logger.Warn(context.Background(), "retrying job",
		logger.String("jobID", job.ID),
		logger.String("kind", job.Kind),
		logger.Int("attempt", job.Attempt),
		logger.String("cause", msg),
	)
	metrics.RecordQueueRetry()
	next := job
	next.Attempt++
	next.AttemptID = uuid.NewString()
	delay := q.retryDelay * time.Duration(job.Attempt)

	q.mu.Lock()
	if q.closed {
		q.finishLocked(job.ID, Outcome{JobID: job.ID, Attempts: job.Attempt, Result: result, Err: msg})
		q.mu.Unlock()
		return nil
	}
	q.wg.Add(1)
	q.mu.Unlock()
	time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			q.finishLocked(next.ID, Outcome{JobID: next.ID, Attempts: job.Attempt, Result: result, Err: msg})
			return
		}
		select {
		case q.jobs <- next:
			metrics.UpdateQueueSize(len(q.jobs))
		default:
			metrics.RecordQueueRejected("queue_full")
			q.finishLocked(next.ID, Outcome{JobID: next.ID, Attempts: job.Attempt, Result: result, Err: msg})
		}
	})
	return nil
}

// Await blocks until jobID finishes or ctx is done.
func (q *InMemoryQueue) Await(ctx context.Context, jobID string) (Outcome, error) {
	q.mu.Lock()
	e, ok := q.entries[jobID]
	q.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	select {
	case <-e.done:
		return e.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Schedule enqueues a repeatable job of kind every interval until ctx is
// done. Each run's id is the kind and its tick, so several schedulers of
// the same kind collapse into one run per tick.
func (q *InMemoryQueue) Schedule(ctx context.Context, kind string, every time.Duration, payload json.RawMessage) {
	if every <= 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case t := <-ticker.C:
				id := fmt.Sprintf("%s@%d", kind, t.Truncate(every).UnixMilli())
				if _, err := q.Enqueue(ctx, Job{ID: id, Kind: kind, Payload: payload}); err != nil {
					if errors.Is(err, ErrClosed) {
						return
					}
					q.logger.Warn(ctx, "scheduled job not enqueued", logger.String("kind", kind), logger.Error(err))
				}
			}
		}
	}()
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Close gracefully shuts down the queue. Jobs still waiting are finished
// with an error so their waiters return.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	close(q.jobs)
	q.mu.Unlock()

	// Buffered jobs are dropped; workers stop taking new ones.
	for job := range q.jobs {
		q.finish(job.ID, Outcome{JobID: job.ID, Attempts: job.Attempt, Err: ErrClosed.Error()})
	}
	q.wg.Wait()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *InMemoryQueue) finish(jobID string, o Outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finishLocked(jobID, o)
}

func (q *InMemoryQueue) finishLocked(jobID string, o Outcome) {
	e, ok := q.entries[jobID]
	if !ok || e.finished() {
		return
	}
	e.outcome = o
	e.finishedAt = q.now()
	close(e.done)
}

// pruneLocked drops finished entries older than the retention window.
func (q *InMemoryQueue) pruneLocked() {
	cutoff := q.now().Add(-q.resultRetention)
	for id, e := range q.entries {
		if e.finished() && e.finishedAt.Before(cutoff) {
			delete(q.entries, id)
		}
	}
}
