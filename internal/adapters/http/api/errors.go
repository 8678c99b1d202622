package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("missing or unknown API token")
	ErrPayloadTooBig = errors.New("request body too large")
)
