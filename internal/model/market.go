package model

// Market represents a tradeable market/pair on an exchange.
type Market struct {
	Symbol     string  `json:"symbol"`      // e.g. "BTCUSDT"
	Exchange   string  `json:"exchange"`    // e.g. "BINANCE"
	Base       string  `json:"base"`        // e.g. "BTC"
	Quote      string  `json:"quote"`       // e.g. "USDT"
	TickSize   float64 `json:"tick_size"`   // minimum price movement in quote units
	StepSize   float64 `json:"step_size"`   // minimum quantity increment in base units
	MinNotional float64 `json:"min_notional"` // minimum order value in quote units
}

// Key returns a unique key for this market: "exchange:symbol".
func (m *Market) Key() string {
	return m.Exchange + ":" + m.Symbol
}
