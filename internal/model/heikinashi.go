package model

import "time"

// HeikinAshiCandle is a smoothed candle derived recursively from raw OHLC
// data. It has no independent lifecycle — batches are recomputed from the
// raw sequence on every transform call.
type HeikinAshiCandle struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
