// Package replay feeds historical candles from SQLite back into the
// pipeline at a configurable speed for backtesting.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"crypto-systemv1/internal/model"
	sqlitestore "crypto-systemv1/internal/store/sqlite"
)

// maxGapSleep caps the simulated gap between candles so sparse history
// does not stall a slow replay.
const maxGapSleep = 5 * time.Second

// Replayer reads stored TF candles and emits them in timestamp order.
type Replayer struct {
	reader *sqlitestore.Reader
}

// New creates a Replayer backed by a SQLite reader.
func New(reader *sqlitestore.Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all candles for the given TFs into outCh. speed scales the
// playback rate (1.0 = real-time, 10.0 = 10x, 0 = no pacing); fromTS drops
// candles at or before that Unix timestamp (0 = everything).
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.TFCandle) error {
	timeline, err := r.load(tfs, fromTS)
	if err != nil {
		return err
	}
	if len(timeline) == 0 {
		log.Println("[replay] no candles found in SQLite")
		return nil
	}
	log.Printf("[replay] loaded %d candles across %d TFs, speed=%.1fx", len(timeline), len(tfs), speed)

	var lastTS time.Time
	sent := 0
	for _, c := range timeline {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", sent)
			return ctx.Err()
		default:
		}

		if speed > 0 && !lastTS.IsZero() {
			if err := pace(ctx, c.TS.Sub(lastTS), speed); err != nil {
				return err
			}
		}
		lastTS = c.TS

		c.Forming = false // sealed for indicator processing
		outCh <- c
		sent++
	}

	log.Printf("[replay] completed: %d candles replayed", sent)
	return nil
}

// load gathers candles for every requested TF and merges them into one
// timestamp-ordered timeline.
func (r *Replayer) load(tfs []int, fromTS int64) ([]model.TFCandle, error) {
	var timeline []model.TFCandle
	for _, tf := range tfs {
		candles, err := r.reader.ReadAllTFCandles(tf, fromTS)
		if err != nil {
			return nil, err
		}
		timeline = append(timeline, candles...)
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].TS.Before(timeline[j].TS)
	})
	return timeline, nil
}

// pace sleeps the inter-candle gap scaled by speed, honoring cancellation.
func pace(ctx context.Context, gap time.Duration, speed float64) error {
	if gap <= 0 {
		return nil
	}
	wait := time.Duration(float64(gap) / speed)
	if wait > maxGapSleep {
		wait = maxGapSleep
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
