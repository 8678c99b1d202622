package failure

import "errors"

// Sentinel kinds for import failures.
var (
	ErrInvalidScore        = errors.New("invalid score")
	ErrSkipScore           = errors.New("score skipped")
	ErrSongOrChartNotFound = errors.New("song or chart not found")
	ErrInternal            = errors.New("internal failure")
	ErrFatal               = errors.New("fatal import error")
)
