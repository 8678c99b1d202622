package importer

import (
	"fmt"

	"github.com/okian/scoreingest/internal/domain/model"
)

// Pair is the Parser and Converter of one import type.
type Pair struct {
	Parser    Parser
	Converter Converter
}

// Registry maps every import type to its Pair.
type Registry struct {
	pairs map[model.ImportType]Pair
}

// NewRegistry builds a registry and rejects it unless every import type in
// model.ImportTypes has a complete pair, so a new import type cannot ship
// without its parser and converter.
func NewRegistry(pairs map[model.ImportType]Pair) (*Registry, error) {
	for _, t := range model.ImportTypes() {
		p, ok := pairs[t]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnregistered, t)
		}
		if p.Parser == nil || p.Converter == nil {
			return nil, fmt.Errorf("%w: %s has a nil parser or converter", ErrUnregistered, t)
		}
	}
	for t := range pairs {
		if !isKnown(t) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownImportType, t)
		}
	}
	cp := make(map[model.ImportType]Pair, len(pairs))
	for t, p := range pairs {
		cp[t] = p
	}
	return &Registry{pairs: cp}, nil
}

// Lookup returns the pair registered for t.
func (r *Registry) Lookup(t model.ImportType) (Pair, bool) {
	p, ok := r.pairs[t]
	return p, ok
}

func isKnown(t model.ImportType) bool {
	for _, k := range model.ImportTypes() {
		if k == t {
			return true
		}
	}
	return false
}
