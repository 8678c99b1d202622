package stream

import "time"

type config struct {
	stallTimeout time.Duration
	bufferSize   int
	onCancel     func()
}

// Option configures a Bridge.
type Option func(*config)

// WithStallTimeout sets how long Next waits for any event.
func WithStallTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.stallTimeout = d
		}
	}
}

// WithBufferSize bounds the number of undelivered items.
func WithBufferSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithCancel registers a hook that tears down the underlying transport when
// the consumer closes or the stream stalls.
func WithCancel(fn func()) Option {
	return func(c *config) {
		c.onCancel = fn
	}
}
