package gateway

import "sync"

// replayEntry is one broadcast envelope retained for gap backfill.
type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON exactly as broadcast
}

// ReplayBuffer retains the last N envelopes sent on one channel so that
// reconnecting clients can backfill sequence gaps. Concurrent-safe.
type ReplayBuffer struct {
	mu     sync.RWMutex
	ring   []replayEntry
	next   int
	filled int
}

// NewReplayBuffer creates a buffer holding capacity envelopes, defaulting
// to 500 when capacity is not positive.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: make([]replayEntry, capacity)}
}

// Push retains one envelope, evicting the oldest once the buffer is full.
// The payload is copied so callers may reuse their slice.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	held := append([]byte(nil), data...)

	rb.mu.Lock()
	rb.ring[rb.next] = replayEntry{Seq: seq, Data: held}
	rb.next = (rb.next + 1) % len(rb.ring)
	if rb.filled < len(rb.ring) {
		rb.filled++
	}
	rb.mu.Unlock()
}

// Range returns the retained entries with Seq in [fromSeq, toSeq],
// oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	start := 0
	if rb.filled == len(rb.ring) {
		start = rb.next // oldest slot sits under the write cursor
	}

	var out []replayEntry
	for i := 0; i < rb.filled; i++ {
		e := rb.ring[(start+i)%len(rb.ring)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many envelopes are currently retained.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}
