package pb

import "errors"

// Sentinel kinds for PB errors.
var (
	ErrUnsupportedGPT = errors.New("unsupported game/playtype")
)
