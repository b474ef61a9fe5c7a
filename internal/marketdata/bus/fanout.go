package bus

import (
	"context"
	"log"
	"sync"

	"crypto-systemv1/internal/model"
)

// FanOut broadcasts one input stream of candles to every subscriber. A
// subscriber whose channel is full has that candle dropped — a slow
// consumer must never stall the pipeline.
type FanOut struct {
	mu   sync.RWMutex
	subs []chan model.Candle
	buf  int

	// OnDrop is invoked with the 0-based subscriber index whenever a
	// candle is dropped for that consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut whose subscriber channels hold outputBufferSize candles.
func New(outputBufferSize int) *FanOut {
	return &FanOut{buf: outputBufferSize}
}

// Subscribe registers and returns a new output channel.
func (f *FanOut) Subscribe() <-chan model.Candle {
	ch := make(chan model.Candle, f.buf)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// Run pumps the input channel into every subscriber until ctx is cancelled
// or the input closes, then closes all subscriber channels.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer f.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-input:
			if !ok {
				return
			}
			f.deliver(c)
		}
	}
}

func (f *FanOut) deliver(candle model.Candle) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.subs {
		select {
		case ch <- candle:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				log.Printf("[bus] output channel %d full, dropping candle %s", i, candle.Key())
			}
		}
	}
}

func (f *FanOut) closeAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		close(ch)
	}
}

// ChannelStat reports one subscriber channel's fill level.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats samples (length, capacity) for each subscriber channel.
// Used for saturation reporting.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ChannelStat, 0, len(f.subs))
	for _, ch := range f.subs {
		out = append(out, ChannelStat{Len: len(ch), Cap: cap(ch)})
	}
	return out
}
