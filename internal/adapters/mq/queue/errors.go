package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed     = errors.New("queue closed")
	ErrFull       = errors.New("queue full")
	ErrMissingID  = errors.New("job has no id")
	ErrUnknownJob = errors.New("unknown job")
)
