package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"crypto-systemv1/internal/model"
)

// openBar is the in-progress 1s candle for one market.
type openBar struct {
	sec int64 // Unix second the bar covers
	bar model.Candle
}

// newBar opens a bar from its first tick.
func newBar(tick model.Tick, sec int64) *openBar {
	return &openBar{
		sec: sec,
		bar: model.Candle{
			Symbol:     tick.Symbol,
			Exchange:   tick.Exchange,
			TS:         time.Unix(sec, 0).UTC(),
			Open:       tick.Price,
			High:       tick.Price,
			Low:        tick.Price,
			Close:      tick.Price,
			Volume:     tick.Qty,
			TicksCount: 1,
		},
	}
}

// fold absorbs one more tick of the same second.
func (b *openBar) fold(tick model.Tick) {
	if tick.Price > b.bar.High {
		b.bar.High = tick.Price
	}
	if tick.Price < b.bar.Low {
		b.bar.Low = tick.Price
	}
	b.bar.Close = tick.Price
	b.bar.Volume += tick.Qty
	b.bar.TicksCount++
}

// Aggregator folds raw ticks into 1-second OHLC candles, one open bar
// per market. A bar finalizes when its second rolls over or when the
// periodic sweep finds it behind the clock.
type Aggregator struct {
	mu   sync.Mutex
	open map[string]*openBar // keyed "EXCHANGE:SYMBOL"

	sweepEvery time.Duration

	// Optional hooks.
	OnDroppedTick func()               // late tick discarded
	OnCandle      func(c model.Candle) // candle finalized and delivered
}

// New builds an aggregator that sweeps for stale bars every 100ms.
func New() *Aggregator {
	return &Aggregator{
		open:       make(map[string]*openBar),
		sweepEvery: 100 * time.Millisecond,
	}
}

// Run consumes tickCh until ctx is cancelled or the channel closes.
// Open bars flush on the way out.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	sweeper := time.NewTicker(a.sweepEvery)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drain(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.drain(candleCh)
				return
			}
			a.ingest(tick, candleCh)

		case <-sweeper.C:
			a.sweep(candleCh)
		}
	}
}

// ingest folds one tick into its market's open bar, rolling the bar
// over when the tick belongs to a later second.
func (a *Aggregator) ingest(tick model.Tick, out chan<- model.Candle) {
	sec := tick.TickTS.Unix()
	key := tick.Exchange + ":" + tick.Symbol

	a.mu.Lock()
	b := a.open[key]

	if b != nil && sec < b.sec {
		// The tick's second already closed; nothing left to amend.
		late := a.OnDroppedTick
		a.mu.Unlock()
		if late != nil {
			late()
		}
		return
	}

	if b != nil && sec > b.sec {
		a.deliver(b, out)
		delete(a.open, key)
		b = nil
	}

	if b == nil {
		a.open[key] = newBar(tick, sec)
	} else {
		b.fold(tick)
	}
	a.mu.Unlock()
}

// sweep finalizes every bar whose second is strictly behind the clock.
func (a *Aggregator) sweep(out chan<- model.Candle) {
	cutoff := time.Now().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, b := range a.open {
		if b.sec < cutoff {
			a.deliver(b, out)
			delete(a.open, key)
		}
	}
}

// drain finalizes everything; used on shutdown.
func (a *Aggregator) drain(out chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, b := range a.open {
		a.deliver(b, out)
		delete(a.open, key)
	}
}

// deliver hands a finalized bar over without blocking; OnCandle fires
// only for bars that actually made it onto the channel.
func (a *Aggregator) deliver(b *openBar, out chan<- model.Candle) {
	select {
	case out <- b.bar:
		if a.OnCandle != nil {
			a.OnCandle(b.bar)
		}
	default:
		log.Printf("[agg] candleCh full, dropping candle %s ts=%v", b.bar.Key(), b.bar.TS)
	}
}
