package smoke

import "errors"

// Sentinel error kinds for this package.
var (
	ErrUnhealthy      = errors.New("service unhealthy")
	ErrImportsFailed  = errors.New("imports failed")
	ErrNotIdempotent  = errors.New("resubmission was not idempotent")
	ErrNothingCreated = errors.New("no scores were created")
)
