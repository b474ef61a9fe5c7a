package indicator

import "crypto-systemv1/internal/model"

// HeikinAshi transforms a batch of TF candles into Heikin Ashi candles.
//
//	haClose = (open + high + low + close) / 4
//	haOpen  = (prevHaOpen + prevHaClose) / 2   (first: (open + close) / 2)
//	haHigh  = max(high, haOpen, haClose)
//	haLow   = min(low, haOpen, haClose)
//
// The transform is stateless and deterministic: each output depends only on
// the input slice, so identical input always produces identical output.
// Candles are expected in chronological order; the recursive haOpen chain
// makes order significant.
func HeikinAshi(candles []model.TFCandle) []model.HeikinAshiCandle {
	if len(candles) == 0 {
		return nil
	}

	out := make([]model.HeikinAshiCandle, len(candles))
	var prevOpen, prevClose float64

	for i, c := range candles {
		haClose := (c.Open + c.High + c.Low + c.Close) / 4.0

		var haOpen float64
		if i == 0 {
			haOpen = (c.Open + c.Close) / 2.0
		} else {
			haOpen = (prevOpen + prevClose) / 2.0
		}

		haHigh := c.High
		if haOpen > haHigh {
			haHigh = haOpen
		}
		if haClose > haHigh {
			haHigh = haClose
		}

		haLow := c.Low
		if haOpen < haLow {
			haLow = haOpen
		}
		if haClose < haLow {
			haLow = haClose
		}

		out[i] = model.HeikinAshiCandle{
			Symbol:   c.Symbol,
			Exchange: c.Exchange,
			TF:       c.TF,
			TS:       c.TS,
			Open:     haOpen,
			High:     haHigh,
			Low:      haLow,
			Close:    haClose,
			Volume:   c.Volume,
		}

		prevOpen, prevClose = haOpen, haClose
	}

	return out
}

// HeikinAshiState computes the same transform incrementally over a candle
// stream, for callers that want smoothed candles as strategy input rather
// than a batch conversion. The haOpen chain is kept per market and TF, so
// interleaved streams smooth independently. Not safe for concurrent use.
type HeikinAshiState struct {
	prev map[string]haPrev
}

type haPrev struct {
	open  float64
	close float64
}

// NewHeikinAshiState creates an empty streaming transform.
func NewHeikinAshiState() *HeikinAshiState {
	return &HeikinAshiState{prev: make(map[string]haPrev)}
}

// Next returns c with its OHLC replaced by Heikin Ashi values. Closed candles
// advance the per-market chain; forming candles are smoothed against the last
// closed candle without advancing it, so repeated previews of the same window
// stay consistent.
func (h *HeikinAshiState) Next(c model.TFCandle) model.TFCandle {
	key := c.Exchange + ":" + c.Symbol + ":" + model.Itoa(c.TF)

	haClose := (c.Open + c.High + c.Low + c.Close) / 4.0
	haOpen := (c.Open + c.Close) / 2.0
	if p, ok := h.prev[key]; ok {
		haOpen = (p.open + p.close) / 2.0
	}

	haHigh := c.High
	if haOpen > haHigh {
		haHigh = haOpen
	}
	if haClose > haHigh {
		haHigh = haClose
	}

	haLow := c.Low
	if haOpen < haLow {
		haLow = haOpen
	}
	if haClose < haLow {
		haLow = haClose
	}

	if !c.Forming {
		h.prev[key] = haPrev{open: haOpen, close: haClose}
	}

	c.Open, c.High, c.Low, c.Close = haOpen, haHigh, haLow, haClose
	return c
}
