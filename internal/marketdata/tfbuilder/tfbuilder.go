// Package tfbuilder resamples the finalized 1s candle stream into the
// configured timeframes. Each (market, TF) pair keeps one forming candle
// that is folded into in O(1) per tick; when a tick lands in a later
// bucket the forming candle is sealed and emitted.
package tfbuilder

import (
	"context"
	"log"
	"time"

	"crypto-systemv1/internal/model"
)

// forming is the in-progress candle for one (market, TF) pair.
type forming struct {
	bucket int64 // bucket start, ts - ts%tf (Unix seconds)
	bar    model.TFCandle
	open   bool
}

// seal finalizes the bar and pushes it out.
func (f *forming) seal(out chan<- model.TFCandle) model.TFCandle {
	f.bar.Forming = false
	push(out, f.bar)
	return f.bar
}

// absorb folds a 1s candle into the forming bar.
func (f *forming) absorb(c model.Candle) {
	if c.High > f.bar.High {
		f.bar.High = c.High
	}
	if c.Low < f.bar.Low {
		f.bar.Low = c.Low
	}
	f.bar.Close = c.Close
	f.bar.Volume += c.Volume
	f.bar.Count++
}

// Builder holds the per-TF forming state. Not goroutine-safe; it expects
// a single consumer goroutine feeding it.
type Builder struct {
	tfs []int // active TF durations in seconds

	// live[tfIdx][marketKey] → forming candle for that pair.
	live []map[string]*forming

	// StaleTolerance rejects ticks whose bucket trails the forming bucket
	// by more than this. Zero disables the check.
	StaleTolerance time.Duration

	// Optional hooks, both may be nil.
	OnTFCandle    func(c model.TFCandle) // fires per sealed TF candle
	OnStaleCandle func()                 // fires per rejected stale tick
}

// New builds a resampler for the given timeframes (seconds).
func New(tfs []int) *Builder {
	b := &Builder{
		tfs:            tfs,
		live:           make([]map[string]*forming, len(tfs)),
		StaleTolerance: 2 * time.Second,
	}
	for i := range b.live {
		b.live[i] = make(map[string]*forming, 64)
	}
	return b
}

// UpdateTFs swaps the active timeframe set at runtime. Forming candles for
// TFs that drop out of the set are sealed and emitted; surviving TFs keep
// their in-progress state.
func (b *Builder) UpdateTFs(newTFs []int, out chan<- model.TFCandle) {
	keep := make(map[int]bool, len(newTFs))
	for _, tf := range newTFs {
		keep[tf] = true
	}

	prev := make(map[int]map[string]*forming, len(b.tfs))
	for i, tf := range b.tfs {
		prev[tf] = b.live[i]
		if keep[tf] {
			continue
		}
		// TF removed from config — close out whatever was forming
		for _, f := range b.live[i] {
			if f.open {
				f.seal(out)
			}
		}
	}

	b.tfs = newTFs
	b.live = make([]map[string]*forming, len(newTFs))
	for i, tf := range newTFs {
		if m, ok := prev[tf]; ok {
			b.live[i] = m
			continue
		}
		b.live[i] = make(map[string]*forming, 64)
	}
}

// Run pulls 1s candles off in until ctx is cancelled or the channel closes,
// emitting TF candles on out. Forming candles are flushed on exit.
func (b *Builder) Run(ctx context.Context, in <-chan model.Candle, out chan<- model.TFCandle) {
	for {
		select {
		case <-ctx.Done():
			b.flushAll(out)
			return
		case c, ok := <-in:
			if !ok {
				b.flushAll(out)
				return
			}
			b.process(c, out)
		}
	}
}

// process folds one 1s candle into every active TF. Hot path.
func (b *Builder) process(c model.Candle, out chan<- model.TFCandle) {
	ts := c.TS.Unix()
	key := c.Key()

	for i, tf := range b.tfs {
		bucket := ts - ts%int64(tf)
		f := b.live[i][key]

		if f != nil && bucket < f.bucket {
			// Tick belongs to a bucket we already moved past. Within
			// tolerance it still merges; beyond it the forming candle
			// must not be corrupted, so the tick is dropped for this TF.
			behind := time.Duration(f.bucket-bucket) * time.Second
			if b.StaleTolerance > 0 && behind > b.StaleTolerance {
				if b.OnStaleCandle != nil {
					b.OnStaleCandle()
				}
				continue
			}
		}

		if f != nil && bucket > f.bucket {
			// Boundary crossed.
			sealed := f.seal(out)
			if b.OnTFCandle != nil {
				b.OnTFCandle(sealed)
			}
			f = nil
		}

		if f == nil {
			f = b.start(i, tf, bucket, key, c)
			// First tick of the bucket goes out right away so the
			// live-preview path sees it.
			push(out, f.bar)
			continue
		}

		f.absorb(c)
		// Forming snapshot per tick; push receives the struct by value,
		// so later merges cannot race with a consumer holding it.
		push(out, f.bar)
	}
}

// start opens a forming candle for a fresh bucket.
func (b *Builder) start(i, tf int, bucket int64, key string, c model.Candle) *forming {
	f := &forming{
		bucket: bucket,
		open:   true,
		bar: model.TFCandle{
			Symbol:   c.Symbol,
			Exchange: c.Exchange,
			TF:       tf,
			TS:       time.Unix(bucket, 0).UTC(),
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
			Count:    1,
			Forming:  true,
		},
	}
	b.live[i][key] = f
	return f
}

// flushAll seals and emits every forming candle, clearing all state.
func (b *Builder) flushAll(out chan<- model.TFCandle) {
	for i := range b.tfs {
		for key, f := range b.live[i] {
			if f.open {
				f.seal(out)
			}
			delete(b.live[i], key)
		}
	}
}

// push never blocks; a full output channel drops the candle with a log line
// rather than stalling the resample loop.
func push(out chan<- model.TFCandle, c model.TFCandle) {
	select {
	case out <- c:
	default:
		log.Printf("[tfbuilder] outCh full, dropping TF candle %s tf=%d ts=%v", c.Key(), c.TF, c.TS)
	}
}

// TFs returns the active timeframe set.
func (b *Builder) TFs() []int { return b.tfs }

// Run1 feeds a single 1s candle through the resampler inline, skipping the
// channel hop that Run pays.
func (b *Builder) Run1(c model.Candle, out chan<- model.TFCandle) { b.process(c, out) }
