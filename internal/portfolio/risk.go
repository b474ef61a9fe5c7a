package portfolio

import (
	"fmt"
	"log"
	"math"
	"sync"
)

// SizingParams are the per-trade position sizing parameters.
// All prices and sizes are in quote currency units (e.g. USDT).
type SizingParams struct {
	RiskPerTrade    float64 `json:"risk_per_trade" yaml:"risk_per_trade"`       // fraction of balance risked per trade
	StopLossPct     float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`         // stop distance as a fraction of entry
	TakeProfitPct   float64 `json:"take_profit_pct" yaml:"take_profit_pct"`     // target distance as a fraction of entry
	MaxPositionSize float64 `json:"max_position_size" yaml:"max_position_size"` // max notional per position (quote units)
}

// DefaultSizingParams returns the standard sizing defaults.
func DefaultSizingParams() SizingParams {
	return SizingParams{
		RiskPerTrade:    0.01,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
		MaxPositionSize: 1000.0,
	}
}

// ParamsUpdate is a partial update to SizingParams. Nil fields are left
// unchanged; provided fields are validated before any of them is applied.
type ParamsUpdate struct {
	RiskPerTrade    *float64 `json:"risk_per_trade,omitempty"`
	StopLossPct     *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   *float64 `json:"take_profit_pct,omitempty"`
	MaxPositionSize *float64 `json:"max_position_size,omitempty"`
}

// Limits defines account-level risk thresholds.
type Limits struct {
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`         // max daily loss in quote units
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"` // max number of concurrent positions
	MaxExposure      float64 `json:"max_exposure" yaml:"max_exposure"`             // max total notional in quote units
	MaxDrawdownPct   float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`     // max drawdown percentage (0-100)
}

// DefaultLimits returns conservative default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:     500.0,
		MaxOpenPositions: 5,
		MaxExposure:      10000.0,
		MaxDrawdownPct:   5.0,
	}
}

// Assessment is the full risk picture for a prospective entry at a price.
type Assessment struct {
	PositionSize float64 `json:"position_size"` // base units
	StopLoss     float64 `json:"stop_loss"`     // quote price
	TakeProfit   float64 `json:"take_profit"`   // quote price
}

// RiskManager sizes trades and validates them against account-level limits.
// One instance owns both concerns — sizing parameters and trading limits —
// behind a single lock.
type RiskManager struct {
	mu        sync.RWMutex
	sizing    SizingParams
	limits    Limits
	portfolio *Portfolio

	dailyPnL   float64
	equity     float64
	peakEquity float64
}

// NewRiskManager creates a RiskManager with the given parameters, limits,
// portfolio, and starting equity.
func NewRiskManager(sizing SizingParams, limits Limits, pf *Portfolio, initialEquity float64) *RiskManager {
	return &RiskManager{
		sizing:     sizing,
		limits:     limits,
		portfolio:  pf,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// ComputePositionSize returns the position size in base units for a trade
// at the given price with the given account balance:
//
//	min(MaxPositionSize/price, balance*RiskPerTrade/(price*StopLossPct))
//
// floored at 0. A non-positive price yields 0 — no trade.
func (rm *RiskManager) ComputePositionSize(balance, price float64) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.positionSize(balance, price)
}

// positionSize is ComputePositionSize without the lock. Callers hold rm.mu.
func (rm *RiskManager) positionSize(balance, price float64) float64 {
	if price <= 0 {
		return 0
	}
	byCap := rm.sizing.MaxPositionSize / price
	byRisk := balance * rm.sizing.RiskPerTrade / (price * rm.sizing.StopLossPct)

	size := byCap
	if byRisk < size {
		size = byRisk
	}
	if size < 0 {
		size = 0
	}
	return size
}

// AssessRisk sizes a prospective entry and derives its stop-loss and
// take-profit prices from the current parameters.
func (rm *RiskManager) AssessRisk(balance, price float64) Assessment {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return Assessment{
		PositionSize: rm.positionSize(balance, price),
		StopLoss:     price * (1 - rm.sizing.StopLossPct),
		TakeProfit:   price * (1 + rm.sizing.TakeProfitPct),
	}
}

// Params returns a copy of the current sizing parameters.
func (rm *RiskManager) Params() SizingParams {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.sizing
}

// UpdateParams applies a partial update to the sizing parameters.
// Every provided field is validated first; on any violation nothing is
// applied and a descriptive error is returned.
func (rm *RiskManager) UpdateParams(u ParamsUpdate) error {
	if u.RiskPerTrade != nil && (*u.RiskPerTrade <= 0 || *u.RiskPerTrade >= 1) {
		return fmt.Errorf("risk_per_trade must be in (0, 1), got %g", *u.RiskPerTrade)
	}
	if u.StopLossPct != nil && (*u.StopLossPct <= 0 || *u.StopLossPct >= 1) {
		return fmt.Errorf("stop_loss_pct must be in (0, 1), got %g", *u.StopLossPct)
	}
	if u.TakeProfitPct != nil && (*u.TakeProfitPct <= 0 || *u.TakeProfitPct >= 1) {
		return fmt.Errorf("take_profit_pct must be in (0, 1), got %g", *u.TakeProfitPct)
	}
	if u.MaxPositionSize != nil && *u.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be > 0, got %g", *u.MaxPositionSize)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if u.RiskPerTrade != nil {
		rm.sizing.RiskPerTrade = *u.RiskPerTrade
	}
	if u.StopLossPct != nil {
		rm.sizing.StopLossPct = *u.StopLossPct
	}
	if u.TakeProfitPct != nil {
		rm.sizing.TakeProfitPct = *u.TakeProfitPct
	}
	if u.MaxPositionSize != nil {
		rm.sizing.MaxPositionSize = *u.MaxPositionSize
	}
	log.Printf("[risk] sizing params updated: risk=%.4f stop=%.4f target=%.4f maxpos=%.2f",
		rm.sizing.RiskPerTrade, rm.sizing.StopLossPct, rm.sizing.TakeProfitPct, rm.sizing.MaxPositionSize)
	return nil
}

// openPositionsLocked counts live positions and reports whether the given
// market ("exchange:symbol") is already among them. Caller holds at least
// the read lock.
func (rm *RiskManager) openPositionsLocked(key string) (count int, held bool) {
	for _, pos := range rm.portfolio.GetPositions() {
		if pos.Qty == 0 {
			continue
		}
		count++
		if pos.Exchange+":"+pos.Symbol == key {
			held = true
		}
	}
	return count, held
}

// drawdownLocked is the drop from peak equity in percent, 0 before any
// equity exists. Caller holds at least the read lock.
func (rm *RiskManager) drawdownLocked() float64 {
	if rm.peakEquity <= 0 {
		return 0
	}
	return (rm.peakEquity - rm.equity) / rm.peakEquity * 100
}

// CanTrade checks if a new trade would violate any account-level limits.
// qty is in base units; notional checks use qty*price.
// Returns true if the trade is allowed, false with a reason if not.
func (rm *RiskManager) CanTrade(symbol, exchange string, qty, price float64) (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	notional := math.Abs(qty * price)
	if notional > rm.sizing.MaxPositionSize {
		return false, "position notional exceeds limit"
	}

	// Opening a market we already hold never counts against the position cap.
	openCount, held := rm.openPositionsLocked(exchange + ":" + symbol)
	if !held && openCount >= rm.limits.MaxOpenPositions {
		return false, "max open positions reached"
	}

	if rm.portfolio.TotalExposure()+notional > rm.limits.MaxExposure {
		return false, "max exposure exceeded"
	}

	if -rm.dailyPnL > rm.limits.MaxDailyLoss {
		return false, "max daily loss reached"
	}

	if rm.drawdownLocked() > rm.limits.MaxDrawdownPct {
		return false, "max drawdown exceeded"
	}

	return true, ""
}

// RecordPnL folds a realized P&L delta into the equity curve and the daily
// counter.
func (rm *RiskManager) RecordPnL(pnl float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.equity += pnl
	if rm.equity > rm.peakEquity {
		rm.peakEquity = rm.equity
	}
	rm.dailyPnL += pnl

	log.Printf("[risk] daily P&L: %.2f, equity: %.2f, peak: %.2f", rm.dailyPnL, rm.equity, rm.peakEquity)
}

// DailyPnL returns the P&L accumulated since the last daily reset.
func (rm *RiskManager) DailyPnL() float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.dailyPnL
}

// ResetDaily resets the daily P&L counter (called at the UTC day boundary).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = 0
	log.Printf("[risk] daily P&L reset")
}

// Status returns current risk status.
func (rm *RiskManager) Status() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return map[string]interface{}{
		"daily_pnl":    rm.dailyPnL,
		"equity":       rm.equity,
		"peak_equity":  rm.peakEquity,
		"drawdown_pct": rm.drawdownLocked(),
		"sizing":       rm.sizing,
		"limits":       rm.limits,
	}
}
