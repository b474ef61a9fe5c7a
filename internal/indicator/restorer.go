package indicator

import (
	"log"

	"crypto-systemv1/internal/model"
)

// SQLiteReader is the interface needed for backfill reads.
type SQLiteReader interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// Restorer rebuilds indicator engine state on indengine startup. The
// recovery chain is: Redis snapshot, then SQLite snapshot, then cold start.
type Restorer struct {
	configs []TFIndicatorConfig
}

// NewRestorer creates a Restorer for the given indicator configs.
func NewRestorer(configs []TFIndicatorConfig) *Restorer {
	return &Restorer{configs: configs}
}

// RestoreFromSnap builds an engine out of a snapshot, or a fresh one when
// snap is nil or the restore fails.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found — cold starting indicator engine")
		return NewEngine(r.configs)
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, markets=%d)",
		snap.Version, snap.StreamID, len(snap.Markets))

	engine, err := RestoreEngine(r.configs, snap)
	if err == nil {
		log.Printf("[restorer] ✅ restored indicator engine from snapshot")
		return engine, nil
	}

	log.Printf("[restorer] WARNING: snapshot restore failed: %v — falling back to cold start", err)
	return NewEngine(r.configs)
}

// ReplayCandles feeds closed TF candles through the engine to bring it from
// the snapshot point up to the present, and reports how many it replayed.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.TFCandle) int {
	replayed := 0
	for _, candle := range candles {
		if candle.Forming {
			continue
		}
		engine.Process(candle)
		replayed++
	}
	log.Printf("[restorer] replayed %d TF candles to catch up", replayed)
	return replayed
}

// warmupDepth is how many historical candles a backfill should feed: one
// past the largest configured window, since RSI and STOCHRSI emit their
// first value only at period+1 closes. Zero means nothing is configured.
func (r *Restorer) warmupDepth() int {
	widest := 0
	for _, tfCfg := range r.configs {
		for _, spec := range tfCfg.Indicators {
			if spec.Period > widest {
				widest = spec.Period
			}
			if spec.Period2 > widest {
				widest = spec.Period2
			}
		}
	}
	if widest == 0 {
		return 0
	}
	return widest + 1
}

// BackfillFromSQLite warms up cold indicators by replaying the most recent
// TF candles out of SQLite. Call it after engine creation or restore and
// before the live stream consumer starts. When onResults is non-nil it
// receives each candle's indicator results so the caller can publish them
// as history.
func (r *Restorer) BackfillFromSQLite(engine *Engine, reader SQLiteReader, onResults func([]model.IndicatorResult)) int {
	if reader == nil {
		return 0
	}
	depth := r.warmupDepth()
	if depth == 0 {
		return 0
	}

	total := 0
	for _, tfCfg := range r.configs {
		candles, err := reader.ReadAllTFCandles(tfCfg.TF, 0)
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read TF=%d candles from SQLite: %v", tfCfg.TF, err)
			continue
		}
		if len(candles) > depth {
			// Warm-up only needs the tail of history.
			candles = candles[len(candles)-depth:]
		}

		for _, candle := range candles {
			candle.Forming = false
			results := engine.Process(candle)
			if onResults != nil && len(results) > 0 {
				onResults(results)
			}
		}
		total += len(candles)
		if len(candles) > 0 {
			log.Printf("[restorer] backfilled %d candles from SQLite for TF=%d", len(candles), tfCfg.TF)
		}
	}

	if total > 0 {
		log.Printf("[restorer] ✅ backfilled %d total candles from SQLite", total)
	}
	return total
}
