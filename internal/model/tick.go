package model

import "time"

// Tick represents a single trade from an exchange stream.
// Prices and quantities are float64 in quote/base units — crypto venues
// quote fractional sizes, so integer minor units don't apply here.
type Tick struct {
	Symbol   string    `json:"symbol"`   // e.g. "BTCUSDT"
	Exchange string    `json:"exchange"` // e.g. "BINANCE"
	Price    float64   `json:"price"`    // last trade price in quote units
	Qty      float64   `json:"qty"`      // last trade quantity in base units
	TickTS   time.Time `json:"tick_ts"`  // UTC timestamp
}

// Key returns a unique key for this tick's market: "exchange:symbol".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Symbol
}
