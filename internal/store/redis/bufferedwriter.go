package redis

import (
	"context"
	"log"
	"sync"

	"crypto-systemv1/internal/model"
)

// BufferedWriter puts the circuit breaker in front of a Writer. While the
// circuit is open, writes queue in memory instead of failing; the queue
// replays as soon as the circuit closes.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu      sync.Mutex
	pending []interface{} // model.Candle / model.TFCandle values
	maxBuf  int

	// Optional metric hooks.
	OnBuffer func()          // per queued write
	OnFlush  func(count int) // after a replay pass
}

// NewBufferedWriter wraps w. maxBufferSize bounds the queue; once full, the
// oldest write gives way to the newest. Zero or negative means 10000.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer:  w,
		cb:      cb,
		ctx:     ctx,
		pending: make([]interface{}, 0, 256),
		maxBuf:  maxBufferSize,
	}

	// Chain onto any state-change hook already installed, then replay the
	// queue whenever the breaker closes.
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// writeVia runs write through the breaker. An open circuit queues payload
// instead of surfacing the error.
func (bw *BufferedWriter) writeVia(payload interface{}, write func() error) error {
	err := bw.cb.Execute(write)
	if err == ErrCircuitOpen {
		bw.enqueue(payload)
		return nil // queued, not lost
	}
	return err
}

// WriteTFCandle writes a closed TF candle through the breaker.
func (bw *BufferedWriter) WriteTFCandle(tfc model.TFCandle) error {
	return bw.writeVia(tfc, func() error { return bw.writer.writeTFCandle(bw.ctx, tfc) })
}

// WriteCandle writes a 1s candle through the breaker.
func (bw *BufferedWriter) WriteCandle(c model.Candle) error {
	return bw.writeVia(c, func() error { return bw.writer.writeCandle(bw.ctx, c) })
}

func (bw *BufferedWriter) enqueue(payload interface{}) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.pending) >= bw.maxBuf {
		bw.pending = bw.pending[1:] // full — oldest write gives way
	}
	bw.pending = append(bw.pending, payload)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays the queue through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.pending) == 0 {
		bw.mu.Unlock()
		return
	}
	queued := bw.pending
	bw.pending = make([]interface{}, 0, 256)
	bw.mu.Unlock()

	for _, p := range queued {
		switch v := p.(type) {
		case model.TFCandle:
			bw.writer.writeTFCandle(bw.ctx, v)
		case model.Candle:
			bw.writer.writeCandle(bw.ctx, v)
		}
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", len(queued))
	if bw.OnFlush != nil {
		bw.OnFlush(len(queued))
	}
}

// PendingCount reports how many writes are waiting on the circuit.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

// Underlying exposes the wrapped Writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
