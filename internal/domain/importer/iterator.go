package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// SliceIterator iterates an in-memory list of records.
type SliceIterator struct {
	records []json.RawMessage
	pos     int
}

// NewSliceIterator returns an iterator over records.
func NewSliceIterator(records []json.RawMessage) *SliceIterator {
	return &SliceIterator{records: records}
}

// Next returns the next record or io.EOF.
func (it *SliceIterator) Next(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	r := it.records[it.pos]
	it.pos++
	return r, nil
}

// IteratorFunc adapts a function to RecordIterator.
type IteratorFunc func(ctx context.Context) (json.RawMessage, error)

// Next calls f.
func (f IteratorFunc) Next(ctx context.Context) (json.RawMessage, error) { return f(ctx) }

// PagedIterator lazily pulls pages from fetch until it returns an empty page.
// fetch receives the zero-based page index.
func PagedIterator(fetch func(ctx context.Context, page int) ([]json.RawMessage, error)) RecordIterator {
	var (
		page    int
		buf     []json.RawMessage
		drained bool
	)
	return IteratorFunc(func(ctx context.Context) (json.RawMessage, error) {
		for len(buf) == 0 {
			if drained {
				return nil, io.EOF
			}
			next, err := fetch(ctx, page)
			if err != nil {
				return nil, fmt.Errorf("fetch page %d: %w", page, err)
			}
			page++
			if len(next) == 0 {
				drained = true
				continue
			}
			buf = next
		}
		r := buf[0]
		buf = buf[1:]
		return r, nil
	})
}

// Marshal encodes each value as a raw record.
func Marshal[T any](values []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
