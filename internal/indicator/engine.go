package indicator

import (
	"context"
	"fmt"

	"crypto-systemv1/internal/model"
)

// IndicatorConfig specifies one indicator to compute. Period2 only applies
// to the two-parameter types: EWO (slow period) and STOCHRSI (stochastic
// window).
type IndicatorConfig struct {
	Type    string // "SMA", "EMA", "SMMA", "RSI", "ATR", "EWO", "STOCHRSI"
	Period  int
	Period2 int
}

// DisplayName is the stable result name, e.g. "EMA_10" or "EWO_5_35".
func (ic IndicatorConfig) DisplayName() string {
	name := ic.Type + "_" + model.Itoa(ic.Period)
	if ic.Period2 > 0 {
		name += "_" + model.Itoa(ic.Period2)
	}
	return name
}

// TFIndicatorConfig is the indicator set for one timeframe.
type TFIndicatorConfig struct {
	TF         int // seconds
	Indicators []IndicatorConfig
}

// indicatorSet holds one market's live instances within a TF, parallel to
// the specs that produced them.
type indicatorSet struct {
	inds  []Indicator
	specs []IndicatorConfig
}

// update feeds a sealed candle through every instance and reports the new
// values. Warming indicators are included with Ready=false.
func (set *indicatorSet) update(tfc model.TFCandle, candle model.Candle) []model.IndicatorResult {
	out := make([]model.IndicatorResult, 0, len(set.inds))
	for i, ind := range set.inds {
		ind.Update(candle)
		out = append(out, model.IndicatorResult{
			Name:     set.specs[i].DisplayName(),
			Symbol:   tfc.Symbol,
			Exchange: tfc.Exchange,
			TF:       tfc.TF,
			Value:    ind.Value(),
			TS:       tfc.TS,
			Ready:    ind.Ready(),
		})
	}
	return out
}

// peek evaluates a forming candle against every instance without touching
// state.
func (set *indicatorSet) peek(tfc model.TFCandle, candle model.Candle) []model.IndicatorResult {
	out := make([]model.IndicatorResult, 0, len(set.inds))
	for i, ind := range set.inds {
		out = append(out, model.IndicatorResult{
			Name:     set.specs[i].DisplayName(),
			Symbol:   tfc.Symbol,
			Exchange: tfc.Exchange,
			TF:       tfc.TF,
			Value:    ind.Peek(candle),
			TS:       tfc.TS,
			Ready:    ind.Ready(),
			Live:     true,
		})
	}
	return out
}

// Engine computes every configured indicator across TFs and markets. It
// carries no locks; callers drive it from a single goroutine.
//
// Candles with NaN or ±Inf in any price field stop here: dropped, counted,
// and reported through OnReject when set. Indicators past this boundary
// assume finite input.
type Engine struct {
	tfConfigs []TFIndicatorConfig
	tfSlot    map[int]int // TF → slot in tfConfigs/byTF

	// byTF[slot][marketKey] → that market's live instances
	byTF []map[string]*indicatorSet

	rejected uint64

	// OnReject fires per dropped non-finite candle; the service main wires
	// it to a metrics counter.
	OnReject func(tfc model.TFCandle)
}

// NewEngine validates the per-TF configs up front — a bad period or unknown
// type fails construction instead of surfacing mid-stream — and builds the
// engine.
func NewEngine(configs []TFIndicatorConfig) (*Engine, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	e := &Engine{
		tfConfigs: configs,
		tfSlot:    make(map[int]int, len(configs)),
		byTF:      make([]map[string]*indicatorSet, len(configs)),
	}
	for i, cfg := range configs {
		e.tfSlot[cfg.TF] = i
		e.byTF[i] = make(map[string]*indicatorSet, 64)
	}
	return e, nil
}

// Rejected counts the non-finite candles dropped at the boundary.
func (e *Engine) Rejected() uint64 { return e.rejected }

// admit maps a candle's TF to its config slot and enforces the finite-input
// boundary. ok is false for unconfigured TFs and rejected candles.
func (e *Engine) admit(tfc model.TFCandle) (slot int, candle model.Candle, ok bool) {
	slot, ok = e.tfSlot[tfc.TF]
	if !ok {
		return 0, model.Candle{}, false
	}
	candle = tfc.Candle()
	if !candle.Finite() {
		e.rejected++
		if e.OnReject != nil {
			e.OnReject(tfc)
		}
		return 0, model.Candle{}, false
	}
	return slot, candle, true
}

// Process feeds a finalized TF candle through every indicator configured for
// its TF and market, creating the instances on first sight.
func (e *Engine) Process(tfc model.TFCandle) []model.IndicatorResult {
	slot, candle, ok := e.admit(tfc)
	if !ok {
		return nil
	}

	key := tfc.Key()
	set := e.byTF[slot][key]
	if set == nil {
		set = e.buildSet(slot)
		e.byTF[slot][key] = set
	}
	return set.update(tfc, candle)
}

// ProcessPeek evaluates a forming TF candle through Peek without mutating
// indicator state, so it can run every second on the live preview. Markets
// not yet seeded by a completed candle return nil; indengine always calls
// Process on completed candles first.
func (e *Engine) ProcessPeek(tfc model.TFCandle) []model.IndicatorResult {
	slot, candle, ok := e.admit(tfc)
	if !ok {
		return nil
	}
	set := e.byTF[slot][tfc.Key()]
	if set == nil {
		return nil
	}
	return set.peek(tfc, candle)
}

// Run consumes sealed TF candles and emits indicator results until ctx is
// done. Forming candles are skipped; a full result channel drops rather
// than blocks.
func (e *Engine) Run(ctx context.Context, tfCandleCh <-chan model.TFCandle, resultCh chan<- model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-tfCandleCh:
			if !ok {
				return
			}
			if tfc.Forming {
				continue
			}
			for _, r := range e.Process(tfc) {
				select {
				case resultCh <- r:
				default:
				}
			}
		}
	}
}

// buildSet instantiates the TF slot's configured indicators.
func (e *Engine) buildSet(slot int) *indicatorSet {
	cfg := e.tfConfigs[slot]
	set := &indicatorSet{
		inds:  make([]Indicator, 0, len(cfg.Indicators)),
		specs: make([]IndicatorConfig, 0, len(cfg.Indicators)),
	}
	for _, ic := range cfg.Indicators {
		ind, err := buildIndicator(ic)
		if err != nil {
			continue // unreachable: configs validated in NewEngine
		}
		set.inds = append(set.inds, ind)
		set.specs = append(set.specs, ic)
	}
	return set
}

// buildIndicator constructs one indicator instance from its config.
func buildIndicator(ic IndicatorConfig) (Indicator, error) {
	switch ic.Type {
	case "SMA":
		return NewSMA(ic.Period)
	case "EMA":
		return NewEMA(ic.Period)
	case "SMMA":
		return NewSMMA(ic.Period)
	case "RSI":
		return NewRSI(ic.Period)
	case "ATR":
		return NewATR(ic.Period)
	case "EWO":
		return NewEWO(ic.Period, ic.Period2)
	case "STOCHRSI":
		return NewStochRSI(ic.Period, ic.Period2)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ic.Type)
	}
}
