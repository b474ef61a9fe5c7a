// Package strategy provides the strategy engine for running trading strategies.
//
// A Strategy receives closed TF candles and emits trading signals. The Engine
// manages strategy lifecycle: registration, candle routing, risk-gated sizing,
// and signal collection.
package strategy

import (
	"context"
	"log"

	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/portfolio"
)

// Signal represents a trading signal emitted by a strategy.
// Size is in base units (e.g. BTC). Price is the reference price at signal
// time; strategies may leave it 0 and the engine stamps the candle close.
type Signal struct {
	StrategyName string  `json:"strategy_name"`
	Action       Action  `json:"action"`
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Size         float64 `json:"size"`
	Price        float64 `json:"price"`
	Reason       string  `json:"reason"`
}

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnCandle is called for each closed TF candle in stream order.
	// Return a Signal to act, or nil / ActionHold to skip.
	OnCandle(candle model.TFCandle) *Signal
}

// Engine manages registered strategies and routes candles to them.
// With a RiskManager attached, unsized signals are sized via
// ComputePositionSize and every signal is gated through CanTrade.
type Engine struct {
	strategies []Strategy
	signalCh   chan Signal

	risk    *portfolio.RiskManager
	balance func() float64

	// Hooks for metrics; may be nil.
	OnDrop   func(sig Signal)
	OnReject func(sig Signal, reason string)
}

// NewEngine creates a new strategy engine.
func NewEngine(signalBufferSize int) *Engine {
	return &Engine{
		signalCh: make(chan Signal, signalBufferSize),
	}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// AttachRisk enables sizing and limit checks. balance supplies the current
// account equity in quote units at signal time.
func (e *Engine) AttachRisk(rm *portfolio.RiskManager, balance func() float64) {
	e.risk = rm
	e.balance = balance
}

// Signals returns the channel of signals emitted by strategies.
func (e *Engine) Signals() <-chan Signal {
	return e.signalCh
}

// Run consumes closed TF candles and routes them to all registered strategies.
// Blocks until ctx is cancelled or candleCh is closed.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.TFCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			for _, sig := range e.Process(candle) {
				select {
				case e.signalCh <- sig:
				default:
					// signal channel full, drop
					if e.OnDrop != nil {
						e.OnDrop(sig)
					}
				}
			}
		}
	}
}

// Process routes one candle through all registered strategies and returns the
// sized, risk-gated signals that survive. Forming candles yield nothing. Run
// delivers the results to the signal channel; the backtester calls Process
// directly and executes fills in the same loop iteration.
func (e *Engine) Process(candle model.TFCandle) []Signal {
	if candle.Forming {
		return nil
	}
	var out []Signal
	for _, s := range e.strategies {
		sig := s.OnCandle(candle)
		if sig == nil || sig.Action == ActionHold {
			continue
		}
		if gated, ok := e.gate(*sig, candle.Close); ok {
			out = append(out, gated)
		}
	}
	return out
}

// gate sizes and risk-checks a signal. refPrice is the candle close, stamped
// onto signals that carry no price. Returns false for signals that size to
// zero or fail a limit check.
func (e *Engine) gate(sig Signal, refPrice float64) (Signal, bool) {
	if sig.Price <= 0 {
		sig.Price = refPrice
	}
	if e.risk != nil {
		if sig.Size <= 0 {
			sig.Size = e.risk.ComputePositionSize(e.balance(), sig.Price)
		}
		if sig.Size <= 0 {
			return sig, false
		}
		if ok, reason := e.risk.CanTrade(sig.Symbol, sig.Exchange, sig.Size, sig.Price); !ok {
			log.Printf("[strategy] %s %s %s:%s rejected: %s",
				sig.StrategyName, sig.Action, sig.Exchange, sig.Symbol, reason)
			if e.OnReject != nil {
				e.OnReject(sig, reason)
			}
			return sig, false
		}
	}
	return sig, true
}
