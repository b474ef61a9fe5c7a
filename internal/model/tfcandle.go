package model

import (
	"encoding/json"
	"time"
)

// TFCandle is one OHLC bucket at a resampled timeframe. TF carries the
// bucket width in seconds (60 = 1m).
type TFCandle struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`      // bucket width in seconds
	TS       time.Time `json:"ts"`      // bucket open time, UTC, TF-aligned
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`  // cumulative base quantity
	Count    int       `json:"count"`   // 1s candles folded into this bucket
	Forming  bool      `json:"forming"` // bucket still accumulating
}

// Key returns "exchange:symbol".
func (c *TFCandle) Key() string {
	return c.Exchange + ":" + c.Symbol
}

// Candle converts to a plain Candle for indicator consumption.
func (c *TFCandle) Candle() Candle {
	return Candle{
		Symbol:     c.Symbol,
		Exchange:   c.Exchange,
		TS:         c.TS,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		TicksCount: c.Count,
	}
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{symbol}".
func (c *TFCandle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Symbol
}

// PubSubChannel returns the live-update channel: "pub:" + StreamKey.
func (c *TFCandle) PubSubChannel() string {
	return "pub:" + c.StreamKey()
}

// JSON marshals the candle for stream payloads.
func (c *TFCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IndicatorResult holds a computed indicator value for a specific symbol + TF.
type IndicatorResult struct {
	Name     string    `json:"name"` // e.g. "EMA_10", "RSI_14", "STOCHRSI_14_14"
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // source candle TF in seconds
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"`    // timestamp of the candle behind the value
	Ready    bool      `json:"ready"` // warmup complete
	Live     bool      `json:"live"`  // preview computed off a forming candle
}

// StreamKey returns the Redis stream key: "ind:{name}:{TF}s:{exchange}:{symbol}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Symbol
}

// PubSubChannel returns the live-update channel: "pub:" + StreamKey.
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// LatestKey returns the key holding the most recent value:
// "ind:{name}:{TF}s:latest:{exchange}:{symbol}".
func (r *IndicatorResult) LatestKey() string {
	return "ind:" + r.Name + ":" + Itoa(r.TF) + "s:latest:" + r.Exchange + ":" + r.Symbol
}

// JSON marshals the result for stream payloads.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
