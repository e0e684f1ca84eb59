package reqid

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrExhausted is returned once the counter has reached math.MaxInt64.
var ErrExhausted = errors.New("request id space exhausted")

// Allocator hands out strictly increasing request ids.
// All methods are safe for concurrent use and never block.
type Allocator struct {
	next atomic.Int64
}

// New creates an allocator whose first id is start.
// Negative values are clamped to zero.
func New(start int64) *Allocator {
	a := &Allocator{}
	if start < 0 {
		start = 0
	}
	a.next.Store(start)
	return a
}

// Next returns the next id.
func (a *Allocator) Next() (int64, error) {
	for {
		cur := a.next.Load()
		if cur == math.MaxInt64 {
			return 0, ErrExhausted
		}
		if a.next.CompareAndSwap(cur, cur+1) {
			return cur, nil
		}
	}
}

// Reseed moves the counter forward to v, typically the "next valid id"
// announced by the gateway during the handshake. The counter never moves
// backwards, so ids already issued in this session stay unique.
// It reports whether the counter changed.
func (a *Allocator) Reseed(v int64) bool {
	for {
		cur := a.next.Load()
		if v <= cur {
			return false
		}
		if a.next.CompareAndSwap(cur, v) {
			return true
		}
	}
}

// Peek returns the id the next call to Next would return.
func (a *Allocator) Peek() int64 {
	return a.next.Load()
}
