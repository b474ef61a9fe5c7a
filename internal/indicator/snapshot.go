package indicator

import (
	"fmt"
	"log"
	"strings"

	"crypto-systemv1/internal/model"
)

// Snapshottable marks indicators whose state can be checkpointed.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot is the serialized state of one indicator instance. A
// single struct covers every type; fields a type does not use stay omitted
// in the JSON. Composite indicators (EWO, STOCHRSI) nest sub-snapshots for
// their legs.
type IndicatorSnapshot struct {
	Type    string `json:"type"`              // "SMA", "EMA", "SMMA", "RSI", "ATR", "EWO", "STOCHRSI"
	Period  int    `json:"period"`            // primary period
	Period2 int    `json:"period2,omitempty"` // EWO slow period / STOCHRSI window

	// SMA fields (Buf/Idx double as the STOCHRSI window)
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI / ATR fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// Composite sub-snapshots
	Fast *IndicatorSnapshot `json:"fast,omitempty"` // EWO fast EMA
	Slow *IndicatorSnapshot `json:"slow,omitempty"` // EWO slow EMA
	RSI  *IndicatorSnapshot `json:"rsi,omitempty"`  // STOCHRSI inner RSI
}

// MarketSnapshot carries one market's indicator states within a TF.
type MarketSnapshot struct {
	Symbol     string              `json:"symbol"`
	Exchange   string              `json:"exchange"`
	TF         int                 `json:"tf"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot is the whole engine's checkpoint.
type EngineSnapshot struct {
	StreamID string           `json:"stream_id"` // Redis Stream ID at checkpoint time
	Markets  []MarketSnapshot `json:"markets"`
	Version  int              `json:"version"` // schema version for forward compat
}

// snapKey is the Type+Period(+Period2) identity used to match snapshot
// entries against live configs.
func snapKey(typ string, period, period2 int) string {
	k := typ + ":" + model.Itoa(period)
	if period2 > 0 {
		k += ":" + model.Itoa(period2)
	}
	return k
}

// snapshotSet checkpoints every instance in a set. All shipped indicator
// types implement Snapshottable; a non-snapshottable instance is a
// programming error and fails the checkpoint.
func snapshotSet(set *indicatorSet) ([]IndicatorSnapshot, error) {
	out := make([]IndicatorSnapshot, 0, len(set.inds))
	for _, ind := range set.inds {
		si, ok := ind.(Snapshottable)
		if !ok {
			return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind.Name())
		}
		out = append(out, si.Snapshot())
	}
	return out, nil
}

// SnapshotEngine captures every live indicator's state.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  1,
	}

	for slot, cfg := range e.tfConfigs {
		for marketKey, set := range e.byTF[slot] {
			states, err := snapshotSet(set)
			if err != nil {
				return nil, err
			}
			ms := MarketSnapshot{
				Symbol:     marketKey,
				TF:         cfg.TF,
				Indicators: states,
			}
			// marketKey comes from TFCandle.Key(): "exchange:symbol"
			if ex, sym, found := strings.Cut(marketKey, ":"); found {
				ms.Exchange = ex
				ms.Symbol = sym
			}
			snap.Markets = append(snap.Markets, ms)
		}
	}

	return snap, nil
}

// RestoreEngine rebuilds an Engine from a checkpoint, tolerating config
// drift: entries match by Type+Period(+Period2), not index. Matches restore
// their state, additions start cold, and removals are skipped.
func RestoreEngine(configs []TFIndicatorConfig, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(configs)
	if err != nil {
		return nil, err
	}

	for _, ms := range snap.Markets {
		slot, ok := e.tfSlot[ms.TF]
		if !ok {
			continue // TF no longer configured
		}
		restoreMarket(e, slot, ms)
	}

	return e, nil
}

// restoreMarket instantiates a market's indicators and loads state into the
// ones the snapshot still covers.
func restoreMarket(e *Engine, slot int, ms MarketSnapshot) {
	set := e.buildSet(slot)

	byIdentity := make(map[string]IndicatorSnapshot, len(ms.Indicators))
	for _, indSnap := range ms.Indicators {
		byIdentity[snapKey(indSnap.Type, indSnap.Period, indSnap.Period2)] = indSnap
	}

	restored, cold := 0, 0
	for i, ind := range set.inds {
		spec := set.specs[i]

		indSnap, found := byIdentity[snapKey(spec.Type, spec.Period, spec.Period2)]
		if !found {
			cold++ // indicator added since the checkpoint
			continue
		}

		si, ok := ind.(Snapshottable)
		if !ok {
			cold++
			continue
		}
		if err := si.RestoreFromSnapshot(indSnap); err != nil {
			cold++ // bad entry is non-fatal, the instance just warms up again
			continue
		}
		restored++
	}

	if cold > 0 {
		log.Printf("[restorer] TF=%d market=%s: restored %d, cold-started %d indicators",
			ms.TF, ms.Symbol, restored, cold)
	}

	key := ms.Symbol
	if ms.Exchange != "" {
		key = ms.Exchange + ":" + ms.Symbol
	}
	e.byTF[slot][key] = set
}
