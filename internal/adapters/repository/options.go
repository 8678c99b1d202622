package repository

import (
	"time"

	"github.com/okian/scoreingest/pkg/logger"
)

const defaultMetricsUpdateInterval = 5 * time.Second

type options struct {
	metricsUpdateInterval time.Duration
	log                   logger.Logger
}

// Option configures a store.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{metricsUpdateInterval: defaultMetricsUpdateInterval, log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
