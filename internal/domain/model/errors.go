package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrVariantMismatch = errors.New("game-specific variant does not match game")
	ErrNotFound        = errors.New("document not found")
)
