// Package stream adapts push-style streaming transports into a pull-based
// sequence with a bounded buffer and stall detection.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/okian/scoreingest/pkg/metrics"
)

// Default bridge configuration constants.
const (
	defaultStallTimeout = 5 * time.Second
	defaultBufferSize   = 64
)

// Bridge is fed by a producer (Push, End, Fail, Status) and drained by a
// single consumer (Next). A Next that sees no event within the stall timeout
// fails the sequence and cancels the producer.
type Bridge[T any] struct {
	items        chan T
	done         chan struct{}
	once         sync.Once
	err          error
	stallTimeout time.Duration
	onCancel     func()
}

// New creates a bridge.
func New[T any](opts ...Option) *Bridge[T] {
	cfg := config{stallTimeout: defaultStallTimeout, bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bridge[T]{
		items:        make(chan T, cfg.bufferSize),
		done:         make(chan struct{}),
		stallTimeout: cfg.stallTimeout,
		onCancel:     cfg.onCancel,
	}
}

// Push delivers one item. It blocks while the buffer is full and returns
// ErrClosed once the sequence has finished for any reason.
func (b *Bridge[T]) Push(ctx context.Context, item T) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.items <- item:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End marks the producer as finished. Buffered items are still delivered.
func (b *Bridge[T]) End() { b.finish(nil) }

// Fail terminates the sequence with err after buffered items are delivered.
func (b *Bridge[T]) Fail(err error) {
	if err == nil {
		err = ErrClosed
	}
	b.finish(err)
}

// Status reports a transport status event. Code 0 is OK and is ignored.
func (b *Bridge[T]) Status(code int, msg string) {
	if code == 0 {
		return
	}
	b.Fail(&StatusError{Code: code, Message: msg})
}

// Close cancels the sequence from the consumer side.
func (b *Bridge[T]) Close() {
	if b.finish(ErrClosed) {
		b.cancel()
	}
}

// Next returns the next item, io.EOF once the producer ended and the buffer
// is drained, the producer's error, or ErrStalled after the stall timeout.
func (b *Bridge[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-b.items:
		return item, nil
	default:
	}

	timer := time.NewTimer(b.stallTimeout)
	defer timer.Stop()

	select {
	case item := <-b.items:
		return item, nil
	case <-b.done:
		select {
		case item := <-b.items:
			return item, nil
		default:
		}
		if b.err == nil {
			return zero, io.EOF
		}
		return zero, b.err
	case <-timer.C:
		if b.finish(fmt.Errorf("%w after %s", ErrStalled, b.stallTimeout)) {
			metrics.RecordStreamStall()
			b.cancel()
		}
		return zero, b.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// finish records the terminal state once; it reports whether this call won.
func (b *Bridge[T]) finish(err error) bool {
	won := false
	b.once.Do(func() {
		b.err = err
		close(b.done)
		won = true
	})
	return won
}

func (b *Bridge[T]) cancel() {
	if b.onCancel != nil {
		b.onCancel()
	}
}

// StatusError is a non-OK status reported by the transport.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream status %d: %s", e.Code, e.Message)
}
