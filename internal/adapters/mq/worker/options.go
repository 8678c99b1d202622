package worker

import (
	"time"

	"github.com/okian/scoreingest/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(log logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if log != nil {
			w.logger = log
		}
	}
}

// WithJobTimeout bounds each handler call. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.jobTimeout = d
		}
	}
}
