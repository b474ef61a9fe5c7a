package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/portfolio"
	"crypto-systemv1/internal/strategy"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string          `json:"order_id"`
	Signal    strategy.Signal `json:"signal"`
	FillPrice float64         `json:"fill_price"`
	FillQty   float64         `json:"fill_qty"`
	FilledAt  time.Time       `json:"filled_at"`
	Slippage  float64         `json:"slippage"` // simulated slippage in quote units
}

// OrderSink persists the order-state journal. *sqlite.Writer satisfies it.
type OrderSink interface {
	InsertOrder(o model.Order) error
}

// PaperExecutor simulates order execution without real venue calls, for
// paper trading and the backtester alike.
type PaperExecutor struct {
	mu       sync.RWMutex
	fills    []Fill
	resultCh chan OrderResult

	slippageBps float64 // simulated slippage in basis points (5 = 0.05%)

	// Optional wiring; any of these may be nil.
	pf      *portfolio.Portfolio
	rm      *portfolio.RiskManager
	journal *Journal
	orders  OrderSink

	// OnFill is called after each simulated fill; may be nil.
	OnFill func(f Fill)
}

// NewPaperExecutor creates an executor that fills every signal instantly
// at its reference price shifted by slippageBps basis points.
func NewPaperExecutor(resultBufferSize int, slippageBps float64) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]Fill, 0, 1000),
		resultCh:    make(chan OrderResult, resultBufferSize),
		slippageBps: slippageBps,
	}
}

// AttachPortfolio routes fills into position tracking and realized P&L into
// the risk manager's daily counters.
func (p *PaperExecutor) AttachPortfolio(pf *portfolio.Portfolio, rm *portfolio.RiskManager) {
	p.pf = pf
	p.rm = rm
}

// AttachJournal persists fills to the trades journal.
func (p *PaperExecutor) AttachJournal(j *Journal) {
	p.journal = j
}

// AttachOrderSink persists each fill as an order-state row.
func (p *PaperExecutor) AttachOrderSink(s OrderSink) {
	p.orders = s
}

// Results returns the channel of order results.
func (p *PaperExecutor) Results() <-chan OrderResult {
	return p.resultCh
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// Run consumes strategy signals and simulates execution.
func (p *PaperExecutor) Run(ctx context.Context, signalCh <-chan strategy.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signalCh:
			if !ok {
				return
			}
			p.ExecuteSignal(sig)
		}
	}
}

// slippedPrice adjusts the signal's reference price for slippage: buys
// fill higher, sells fill lower. No reference price means no adjustment.
func (p *PaperExecutor) slippedPrice(sig strategy.Signal) (price, slip float64) {
	price = sig.Price
	if price <= 0 || p.slippageBps <= 0 {
		return price, 0
	}
	slip = price * p.slippageBps / 10000
	if sig.Action == strategy.ActionBuy {
		return price + slip, slip
	}
	return price - slip, slip
}

// ExecuteSignal fills one signal immediately. Exposed for the backtester,
// which drives fills synchronously instead of through Run.
func (p *PaperExecutor) ExecuteSignal(sig strategy.Signal) Fill {
	id := ulid.Make().String()
	now := time.Now().UTC()
	fillPrice, slippage := p.slippedPrice(sig)

	fill := Fill{
		OrderID:   id,
		Signal:    sig,
		FillPrice: fillPrice,
		FillQty:   sig.Size,
		FilledAt:  now,
		Slippage:  slippage,
	}

	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	if p.pf != nil {
		realized := p.pf.ApplyFill(sig.Symbol, sig.Exchange, string(sig.Action), fill.FillQty, fill.FillPrice)
		if p.rm != nil && realized != 0 {
			p.rm.RecordPnL(realized)
		}
	}

	if p.journal != nil {
		if err := p.journal.RecordFill(fill); err != nil {
			log.Printf("[paper] journal write failed: %v", err)
		}
	}
	if p.orders != nil {
		if err := p.orders.InsertOrder(orderFromFill(fill, now)); err != nil {
			log.Printf("[paper] order journal write failed: %v", err)
		}
	}

	log.Printf("[paper] %s %s %s:%s qty=%.6f price=%.2f (slip=%.2f) order=%s reason=%s",
		fill.Signal.Action, fill.Signal.StrategyName, fill.Signal.Exchange, fill.Signal.Symbol,
		fill.FillQty, fill.FillPrice, fill.Slippage, id, fill.Signal.Reason)

	if p.OnFill != nil {
		p.OnFill(fill)
	}

	select {
	case p.resultCh <- OrderResult{
		OrderID: id,
		Status:  "FILLED",
		Message: fmt.Sprintf("paper filled at %.2f", fillPrice),
		Signal:  sig,
	}:
	default:
		// result channel full, drop
	}

	return fill
}

func orderFromFill(f Fill, now time.Time) model.Order {
	return model.Order{
		OrderID:         f.OrderID,
		Symbol:          f.Signal.Symbol,
		Exchange:        f.Signal.Exchange,
		TransactionType: string(f.Signal.Action),
		OrderType:       "MARKET",
		Qty:             f.FillQty,
		Price:           f.Signal.Price,
		FilledQty:       f.FillQty,
		AvgPrice:        f.FillPrice,
		Status:          "FILLED",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
