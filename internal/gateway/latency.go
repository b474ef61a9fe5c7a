package gateway

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker keeps a sliding window of end-to-end latency samples and
// reports p50/p95/p99 over whatever the window currently holds. Safe for
// concurrent use.
type LatencyTracker struct {
	mu     sync.Mutex
	ring   []float64 // milliseconds, oldest overwritten first
	next   int
	filled int
}

// NewLatencyTracker sizes the window to capacity samples, defaulting to
// 10000 when capacity is not positive.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: make([]float64, capacity)}
}

// Record stores one latency sample in milliseconds.
func (lt *LatencyTracker) Record(latencyMs float64) {
	lt.mu.Lock()
	lt.ring[lt.next] = latencyMs
	lt.next = (lt.next + 1) % len(lt.ring)
	if lt.filled < len(lt.ring) {
		lt.filled++
	}
	lt.mu.Unlock()
}

// Count reports how many samples the window holds, capped at its capacity.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.filled
}

// Percentiles returns the p50, p95 and p99 of the current window in
// milliseconds, or three zeros before the first sample lands.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	ordered := lt.snapshot()
	if len(ordered) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(ordered)
	return quantile(ordered, 0.50), quantile(ordered, 0.95), quantile(ordered, 0.99)
}

// snapshot copies the window under the lock so sorting happens outside it.
// A full ring is unrolled oldest-first starting at the write cursor.
func (lt *LatencyTracker) snapshot() []float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := make([]float64, lt.filled)
	if lt.filled == len(lt.ring) {
		n := copy(out, lt.ring[lt.next:])
		copy(out[n:], lt.ring[:lt.next])
	} else {
		copy(out, lt.ring[:lt.filled])
	}
	return out
}

// quantile linearly interpolates the q-th quantile (0.0–1.0) of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := q * float64(n-1)
	lo := int(math.Floor(rank))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
