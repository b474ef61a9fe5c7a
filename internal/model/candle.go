package model

import (
	"encoding/json"
	"math"
	"time"
)

// Candle represents a 1-second OHLC candle for a single market.
type Candle struct {
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	TS         time.Time `json:"ts"`          // bucket start time (UTC, second-aligned)
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`      // cumulative base quantity in this second
	TicksCount int       `json:"ticks_count"` // number of trades aggregated
}

// Key returns a unique key for this candle's market: "exchange:symbol".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Symbol
}

// Finite reports whether all four prices are finite numbers.
// Non-finite candles are rejected at the indicator engine boundary.
func (c *Candle) Finite() bool {
	return finite(c.Open) && finite(c.High) && finite(c.Low) && finite(c.Close)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
