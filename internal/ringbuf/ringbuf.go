// Package ringbuf is the single-producer single-consumer queue between the
// exchange socket callback and the aggregator. Push never blocks: when the
// consumer falls behind, the tick is dropped and counted, which keeps the
// WS read loop fast at the cost of completeness during overload.
package ringbuf

import (
	"math/bits"
	"sync/atomic"

	"crypto-systemv1/internal/model"
)

// cacheLine pads the cursors onto separate lines so the producer and
// consumer cores don't invalidate each other's caches.
const cacheLine = 64

// Ring stores ticks in a power-of-two buffer; the mask turns cursor
// arithmetic into a single AND. Exactly one goroutine may Push and one
// may Pop.
type Ring struct {
	buf  []model.Tick
	mask uint64

	_    [cacheLine]byte
	head atomic.Uint64 // producer cursor, next write slot
	_    [cacheLine]byte
	tail atomic.Uint64 // consumer cursor, next read slot
	_    [cacheLine]byte

	dropped atomic.Uint64
}

// New sizes the ring to the next power of two above capacity, two at
// minimum.
func New(capacity int) *Ring {
	n := ceilPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.Tick, n),
		mask: uint64(n - 1),
	}
}

// Push stores a tick and reports success. A full ring drops the tick,
// bumps the overflow counter, and returns false without blocking.
func (r *Ring) Push(tk model.Tick) bool {
	head, tail := r.head.Load(), r.tail.Load()
	if head-tail >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[head&r.mask] = tk
	r.head.Store(head + 1)
	return true
}

// Pop returns the oldest tick, or ok=false when the ring is empty.
// Non-blocking.
func (r *Ring) Pop() (model.Tick, bool) {
	tail, head := r.tail.Load(), r.head.Load()
	if tail >= head {
		return model.Tick{}, false
	}
	tk := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return tk, true
}

// Len is the number of ticks currently queued.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap is the rounded-up buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow is the running count of ticks dropped by Push.
func (r *Ring) Overflow() uint64 {
	return r.dropped.Load()
}

// ceilPow2 rounds n up to the nearest power of two (1 for n <= 1).
func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}
