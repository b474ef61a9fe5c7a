// Package indicator provides streaming technical indicator calculations
// over candle data.
//
// All indicators implement the Indicator interface, receiving closed candles
// and producing float64 values. Instances are created per (market, TF,
// parameter set) by the Engine and are single-goroutine by construction.
// Constructors validate their parameters and fail fast on invalid periods.
package indicator

import "crypto-systemv1/internal/model"

// Indicator is one streaming calculation over a single market's candles.
type Indicator interface {
	// Name is the type tag without periods: "SMA", "EMA", "STOCHRSI".
	Name() string

	// Update folds one closed candle into the state.
	Update(candle model.Candle)

	// Value is the latest computed value, 0 until warm.
	Value() float64

	// Ready reports whether the warmup window has filled.
	Ready() bool

	// Peek returns what Value would become if candle were applied next,
	// without mutating state. Drives previews from forming candles.
	Peek(candle model.Candle) float64
}
