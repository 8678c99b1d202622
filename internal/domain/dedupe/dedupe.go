// Package dedupe keeps a process-scoped cache of ScoreIDs known to be
// persisted, so repeat imports can skip a store round-trip.
package dedupe

import (
	"context"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduper records ScoreIDs that are already persisted.
//
// A hit is only a hint: the store's keyed insert stays the source of truth,
// and a miss always falls through to it.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Contains reports whether id is cached without recording it.
	Contains(ctx context.Context, id string) bool

	// Unrecord removes id, e.g. when the write that followed SeenAndRecord failed.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper is a bounded LRU of ids. maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	cache   *lru.Cache[string, struct{}]
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}
	size := d.maxSize
	if size <= 0 {
		size = math.MaxInt
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		// lru.New only fails on a non-positive size
		panic(err)
	}
	d.cache = cache
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	seen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	if seen {
		// refresh recency like any other hit
		d.cache.Get(id)
	}
	return seen
}

// Contains counts as a use, so hot ids stay cached.
func (d *inMemoryDeduper) Contains(_ context.Context, id string) bool {
	_, ok := d.cache.Get(id)
	return ok
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.cache.Remove(id)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return int64(d.cache.Len())
}
