package portfolio

import (
	"sync"
	"time"
)

// Trade is one executed fill, the input to P&L accounting.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Action    string    `json:"action"` // BUY or SELL
	Qty       float64   `json:"qty"`    // base units
	Price     float64   `json:"price"`  // quote units
	Timestamp time.Time `json:"timestamp"`
}

// costEntry is the open position for one market: held quantity at its
// weighted-average entry price.
type costEntry struct {
	Qty      float64
	AvgPrice float64
}

// buy folds a fill into the weighted-average cost basis.
func (e costEntry) buy(qty, price float64) costEntry {
	if e.Qty == 0 {
		return costEntry{Qty: qty, AvgPrice: price}
	}
	totalCost := e.AvgPrice*e.Qty + price*qty
	e.Qty += qty
	if e.Qty > 0 {
		e.AvgPrice = totalCost / e.Qty
	}
	return e
}

// sell reduces the position, clamped to what is actually held, and returns
// the realized P&L on the closed portion.
func (e costEntry) sell(qty, price float64) (costEntry, float64) {
	if qty > e.Qty {
		qty = e.Qty
	}
	realized := (price - e.AvgPrice) * qty
	e.Qty -= qty
	if e.Qty <= 0 {
		e = costEntry{} // flat — basis resets
	}
	return e, realized
}

// PnLTracker accounts realized and unrealized P&L across markets.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []Trade

	realizedPnL float64 // quote units, closed positions only

	costBasis map[string]costEntry // "exchange:symbol"
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades:    make([]Trade, 0, 500),
		costBasis: make(map[string]costEntry),
	}
}

// RecordTrade books a fill and returns the realized P&L it produced
// (zero for buys).
func (p *PnLTracker) RecordTrade(trade Trade) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, trade)
	key := trade.Exchange + ":" + trade.Symbol
	pos := p.costBasis[key]

	var realized float64
	if trade.Action == "BUY" {
		pos = pos.buy(trade.Qty, trade.Price)
	} else {
		pos, realized = pos.sell(trade.Qty, trade.Price)
		p.realizedPnL += realized
	}
	p.costBasis[key] = pos

	return realized
}

// GetRealizedPnL returns cumulative realized P&L in quote units.
func (p *PnLTracker) GetRealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// unrealizedLocked sums mark-to-market P&L over open positions and counts
// them. Positions without a quote in currentPrices contribute nothing.
// Caller holds at least the read lock.
func (p *PnLTracker) unrealizedLocked(currentPrices map[string]float64) (float64, int) {
	var unrealized float64
	open := 0
	for key, pos := range p.costBasis {
		if pos.Qty <= 0 {
			continue
		}
		open++
		if quote, ok := currentPrices[key]; ok {
			unrealized += (quote - pos.AvgPrice) * pos.Qty
		}
	}
	return unrealized, open
}

// GetUnrealizedPnL marks open positions against currentPrices, keyed
// "exchange:symbol".
func (p *PnLTracker) GetUnrealizedPnL(currentPrices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	unrealized, _ := p.unrealizedLocked(currentPrices)
	return unrealized
}

// GetTrades returns a copy of the trade log.
func (p *PnLTracker) GetTrades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// PnLSummary is a point-in-time view across the whole book.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	OpenPositions int     `json:"open_positions"`
}

// GetSummary marks the book against currentPrices and rolls everything up.
func (p *PnLTracker) GetSummary(currentPrices map[string]float64) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealized, open := p.unrealizedLocked(currentPrices)

	return PnLSummary{
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL + unrealized,
		TotalTrades:   len(p.trades),
		OpenPositions: open,
	}
}
