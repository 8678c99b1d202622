package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrUnknownKind = errors.New("no handler for job kind")
	ErrPanic       = errors.New("job panicked")
)
