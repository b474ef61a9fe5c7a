package model

// Position represents a tracked trading position.
type Position struct {
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	Qty         float64 `json:"qty"`          // positive = long, negative = short
	AvgPrice    float64 `json:"avg_price"`    // quote units
	LastPrice   float64 `json:"last_price"`   // latest market price
	RealizedPnL float64 `json:"realized_pnl"` // quote units
}

// UnrealizedPnL computes unrealized profit/loss in quote units.
func (p *Position) UnrealizedPnL() float64 {
	return (p.LastPrice - p.AvgPrice) * p.Qty
}

// Key returns a unique key for this position: "exchange:symbol".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Symbol
}
