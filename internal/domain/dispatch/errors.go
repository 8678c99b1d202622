package dispatch

import "errors"

// Sentinel kinds for dispatch errors.
var (
	ErrBadEnvelope  = errors.New("malformed buffer envelope")
	ErrJobFailed    = errors.New("import job failed")
	ErrBadJobResult = errors.New("malformed job result")
)
