package indicator

// window is a fixed-capacity rolling buffer over float64 values.
// Push evicts the oldest value once the buffer is full. Min/Max scan the
// occupied region — O(capacity), zero allocation after construction.
// Shared bookkeeping for windowed indicators (StochRSI).
type window struct {
	buf   []float64
	idx   int // next write position
	count int // total values pushed
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

// Push appends a value, evicting the oldest when full.
func (w *window) Push(v float64) {
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

// Len returns the number of occupied slots.
func (w *window) Len() int {
	if w.count >= len(w.buf) {
		return len(w.buf)
	}
	return w.count
}

// Full reports whether the window has reached capacity.
func (w *window) Full() bool { return w.count >= len(w.buf) }

// MinMax returns the minimum and maximum over the occupied region.
// Returns (0, 0) when empty.
func (w *window) MinMax() (float64, float64) {
	n := w.Len()
	if n == 0 {
		return 0, 0
	}
	lo, hi := w.buf[0], w.buf[0]
	for i := 1; i < n; i++ {
		if w.buf[i] < lo {
			lo = w.buf[i]
		}
		if w.buf[i] > hi {
			hi = w.buf[i]
		}
	}
	return lo, hi
}

// MinMaxWith returns the min and max as if v were pushed next, WITHOUT
// mutating state. When full, the slot that would be evicted is excluded.
func (w *window) MinMaxWith(v float64) (float64, float64) {
	lo, hi := v, v
	n := w.Len()
	for i := 0; i < n; i++ {
		if w.Full() && i == w.idx {
			continue // oldest value — would be evicted by the push
		}
		x := w.buf[i]
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// Values returns a copy of the raw buffer (insertion order not normalized).
// Used for snapshot persistence together with idx and count.
func (w *window) Values() []float64 {
	out := make([]float64, len(w.buf))
	copy(out, w.buf)
	return out
}

// restore replaces the window contents from snapshot state.
func (w *window) restore(buf []float64, idx, count int) {
	if len(buf) > 0 {
		w.buf = make([]float64, len(buf))
		copy(w.buf, buf)
	}
	w.idx = idx
	w.count = count
}
