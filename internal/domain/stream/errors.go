package stream

import "errors"

// Sentinel kinds for stream errors.
var (
	ErrStalled = errors.New("stream stalled")
	ErrClosed  = errors.New("stream closed")
)
