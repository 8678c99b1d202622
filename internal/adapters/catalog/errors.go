package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrInvalidSeed = errors.New("invalid catalog seed")
	ErrEmptySeed   = errors.New("empty catalog seed")
)
