package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrScoreOutOfRange = errors.New("score out of range")
)
