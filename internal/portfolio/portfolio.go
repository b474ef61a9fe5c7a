// Package portfolio tracks positions, P&L, and risk state.
//
// It maintains a real-time view of all open positions, calculates unrealized
// P&L from latest market prices, and houses the risk manager that sizes and
// gates every trade.
package portfolio

import (
	"sync"

	"crypto-systemv1/internal/model"
)

// Portfolio tracks all open positions.
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*model.Position // key = "exchange:symbol"
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*model.Position),
	}
}

// ApplyFill updates the position for a filled order. Buys increase the
// position with a weighted-average entry price; sells reduce it and realize
// P&L against the average. Returns the realized P&L of this fill.
func (pf *Portfolio) ApplyFill(symbol, exchange, side string, qty, price float64) float64 {
	key := exchange + ":" + symbol
	pf.mu.Lock()
	defer pf.mu.Unlock()

	pos, ok := pf.positions[key]
	if !ok {
		pos = &model.Position{Symbol: symbol, Exchange: exchange}
		pf.positions[key] = pos
	}

	var realized float64
	if side == "BUY" {
		totalCost := pos.AvgPrice*pos.Qty + price*qty
		pos.Qty += qty
		if pos.Qty > 0 {
			pos.AvgPrice = totalCost / pos.Qty
		}
	} else {
		sellQty := qty
		if sellQty > pos.Qty {
			sellQty = pos.Qty // no naked shorts in the paper executor
		}
		realized = (price - pos.AvgPrice) * sellQty
		pos.Qty -= sellQty
		pos.RealizedPnL += realized
		if pos.Qty <= 0 {
			pos.Qty = 0
			pos.AvgPrice = 0
		}
	}
	pos.LastPrice = price
	return realized
}

// UpdatePrice updates the last traded price for a position.
func (pf *Portfolio) UpdatePrice(candle model.Candle) {
	key := candle.Exchange + ":" + candle.Symbol
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pos, ok := pf.positions[key]; ok {
		pos.LastPrice = candle.Close
	}
}

// Get returns a copy of the position for a market, and whether it exists.
func (pf *Portfolio) Get(symbol, exchange string) (model.Position, bool) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	if pos, ok := pf.positions[exchange+":"+symbol]; ok {
		return *pos, true
	}
	return model.Position{}, false
}

// GetPositions returns a snapshot of all positions.
func (pf *Portfolio) GetPositions() []model.Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]model.Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		result = append(result, *p)
	}
	return result
}

// OpenCount returns the number of positions with non-zero quantity.
func (pf *Portfolio) OpenCount() int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	n := 0
	for _, p := range pf.positions {
		if p.Qty != 0 {
			n++
		}
	}
	return n
}

// TotalUnrealizedPnL returns the total unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total float64
	for _, p := range pf.positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// TotalExposure returns the total absolute notional across open positions,
// marked at the last seen price.
func (pf *Portfolio) TotalExposure() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total float64
	for _, p := range pf.positions {
		notional := p.Qty * p.LastPrice
		if notional < 0 {
			notional = -notional
		}
		total += notional
	}
	return total
}
