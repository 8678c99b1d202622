package importer

import "errors"

// Sentinel kinds for importer errors.
var (
	ErrUnregistered      = errors.New("import type has no parser/converter")
	ErrUnknownImportType = errors.New("unknown import type")
	ErrInvalidArgs       = errors.New("invalid parser arguments")
)
