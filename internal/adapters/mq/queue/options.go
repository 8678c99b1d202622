package queue

import (
	"time"

	"github.com/okian/scoreingest/pkg/logger"
)

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of waiting jobs.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithMaxAttempts sets how many times a retryable job runs before its
// failure is final.
func WithMaxAttempts(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay before a retry; attempt n waits n times
// the base.
func WithRetryDelay(d time.Duration) Option {
	return func(q *InMemoryQueue) {
		if d >= 0 {
			q.retryDelay = d
		}
	}
}

// WithResultRetention sets how long finished outcomes stay awaitable.
func WithResultRetention(d time.Duration) Option {
	return func(q *InMemoryQueue) {
		if d > 0 {
			q.resultRetention = d
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l logger.Logger) Option {
	return func(q *InMemoryQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *InMemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}
