package replicator

import "sync"

// AllIndices is the sentinel End value meaning "download everything"
// (spec §4.12 "end = -1 means all").
const AllIndices = ^uint64(0)

// Range is a peer-side request covering a half-open index interval with an
// optional membership predicate (spec GLOSSARY "Range").
type Range struct {
	Start  uint64
	End    uint64 // AllIndices means unbounded
	Filter func(uint64) bool
	Linear bool

	mu        sync.Mutex
	destroyed bool
	err       error
	done      chan struct{}
}

// NewRange constructs a Range over [start, end) with an optional filter.
// Use RangeFromBlocks to derive the bounds and filter from an index set.
func NewRange(start, end uint64, filter func(uint64) bool, linear bool) *Range {
	return &Range{Start: start, End: end, Filter: filter, Linear: linear, done: make(chan struct{})}
}

// RangeFromBlocks builds a Range covering exactly the given indices.
func RangeFromBlocks(blocks []uint64, linear bool) *Range {
	set := make(map[uint64]struct{}, len(blocks))
	min, max := blocks[0], blocks[0]
	for _, b := range blocks {
		set[b] = struct{}{}
		if b < min {
			min = b
		}
		if b > max {
			max = b
		}
	}
	return &Range{
		Start:  min,
		End:    max + 1,
		Filter: func(i uint64) bool { _, ok := set[i]; return ok },
		Linear: linear,
		done:   make(chan struct{}),
	}
}

// Includes reports whether index is requested by this range.
func (r *Range) Includes(index uint64) bool {
	if index < r.Start {
		return false
	}
	if r.End != AllIndices && index >= r.End {
		return false
	}
	if r.Filter != nil {
		return r.Filter(index)
	}
	return true
}

// Destroy cancels the range (spec §4.12 "destroy(null) cancels it").
func (r *Range) Destroy(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.err = err
	close(r.done)
}

// Done returns a channel closed when the range is destroyed.
func (r *Range) Done() <-chan struct{} { return r.done }

// Err returns the error Destroy was called with, if any.
func (r *Range) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// IsDestroyed reports whether Destroy has been called.
func (r *Range) IsDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}
