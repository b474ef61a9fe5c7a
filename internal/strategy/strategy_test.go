package strategy

import (
	"context"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/portfolio"
)

func tfCandle(close float64) model.TFCandle {
	return model.TFCandle{
		Symbol:   "BTCUSDT",
		Exchange: "BINANCE",
		TF:       60,
		TS:       time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   1,
		Count:    60,
	}
}

// ────────────────────────────────────────────────────────────
// EMA threshold
// ────────────────────────────────────────────────────────────

func TestEvaluate_Band(t *testing.T) {
	// EMA 100, 1% band: [99, 101]
	if got := Evaluate(101.5, 100, 0.01); got != ActionBuy {
		t.Errorf("above band: got %s, want BUY", got)
	}
	if got := Evaluate(98.5, 100, 0.01); got != ActionSell {
		t.Errorf("below band: got %s, want SELL", got)
	}
	if got := Evaluate(100.5, 100, 0.01); got != ActionHold {
		t.Errorf("inside band: got %s, want HOLD", got)
	}
	// Boundary prices are holds: the band is exclusive.
	if got := Evaluate(101, 100, 0.01); got != ActionHold {
		t.Errorf("upper edge: got %s, want HOLD", got)
	}
}

func TestEMAThreshold_EdgeTriggered(t *testing.T) {
	s, err := NewEMAThreshold(3, 0.01)
	if err != nil {
		t.Fatalf("NewEMAThreshold: %v", err)
	}

	// Warm up: EMA(3) seeds with mean(100,100,100) = 100
	for i := 0; i < 3; i++ {
		if sig := s.OnCandle(tfCandle(100)); sig != nil {
			t.Fatalf("warm-up candle %d emitted %s", i, sig.Action)
		}
	}

	// Jump above the band: one buy
	sig := s.OnCandle(tfCandle(105))
	if sig == nil || sig.Action != ActionBuy {
		t.Fatalf("expected BUY on band breakout, got %+v", sig)
	}
	if sig.Symbol != "BTCUSDT" || sig.Exchange != "BINANCE" {
		t.Errorf("signal market: %s:%s", sig.Exchange, sig.Symbol)
	}

	// Staying above the band must not refire
	if sig := s.OnCandle(tfCandle(106)); sig != nil {
		t.Errorf("expected no refire while above band, got %s", sig.Action)
	}
}

func TestEMAThreshold_RejectsNegativeThreshold(t *testing.T) {
	if _, err := NewEMAThreshold(10, -0.01); err == nil {
		t.Fatal("expected error for negative threshold")
	}
}

// ────────────────────────────────────────────────────────────
// SMA crossover
// ────────────────────────────────────────────────────────────

func TestSMACrossover_GoldenCross(t *testing.T) {
	s := NewSMACrossover(2, 3, false, 14)

	// Downtrend first so fast < slow, then reverse.
	prices := []float64{100, 98, 96, 94}
	for _, p := range prices {
		if sig := s.OnCandle(tfCandle(p)); sig != nil && sig.Action == ActionBuy {
			t.Fatalf("unexpected BUY during downtrend at %v", p)
		}
	}

	// Sharp reversal: fast SMA (2) recovers above slow SMA (3)
	var got *Signal
	for _, p := range []float64{99, 104} {
		if sig := s.OnCandle(tfCandle(p)); sig != nil {
			got = sig
			break
		}
	}
	if got == nil || got.Action != ActionBuy {
		t.Fatalf("expected golden-cross BUY, got %+v", got)
	}
}

func TestSMACrossover_DeathCross(t *testing.T) {
	s := NewSMACrossover(2, 3, false, 14)

	for _, p := range []float64{94, 96, 98, 100} {
		s.OnCandle(tfCandle(p))
	}

	var got *Signal
	for _, p := range []float64{95, 90} {
		if sig := s.OnCandle(tfCandle(p)); sig != nil {
			got = sig
			break
		}
	}
	if got == nil || got.Action != ActionSell {
		t.Fatalf("expected death-cross SELL, got %+v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Engine risk gating
// ────────────────────────────────────────────────────────────

// fixedStrategy emits one canned signal on every candle.
type fixedStrategy struct{ sig Signal }

func (f *fixedStrategy) Name() string { return "fixed" }
func (f *fixedStrategy) OnCandle(c model.TFCandle) *Signal {
	s := f.sig
	return &s
}

func TestEngine_SizesUnsizedSignals(t *testing.T) {
	eng := NewEngine(10)
	eng.Register(&fixedStrategy{sig: Signal{
		StrategyName: "fixed", Action: ActionBuy,
		Symbol: "BTCUSDT", Exchange: "BINANCE",
	}})

	pf := portfolio.New()
	rm := portfolio.NewRiskManager(portfolio.DefaultSizingParams(), portfolio.DefaultLimits(), pf, 10000)
	eng.AttachRisk(rm, func() float64 { return 10000 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	candleCh := make(chan model.TFCandle, 1)
	go eng.Run(ctx, candleCh)

	candleCh <- tfCandle(50000)

	select {
	case sig := <-eng.Signals():
		// min(1000/50000, 10000*0.01/(50000*0.02)) = min(0.02, 0.1) = 0.02
		if sig.Size != 0.02 {
			t.Errorf("sized qty: got %v, want 0.02", sig.Size)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sized signal")
	}
}

func TestEngine_RejectsOverLimit(t *testing.T) {
	eng := NewEngine(10)
	// Pre-sized signal whose notional blows past MaxPositionSize.
	eng.Register(&fixedStrategy{sig: Signal{
		StrategyName: "fixed", Action: ActionBuy,
		Symbol: "BTCUSDT", Exchange: "BINANCE", Size: 1.0,
	}})

	pf := portfolio.New()
	rm := portfolio.NewRiskManager(portfolio.DefaultSizingParams(), portfolio.DefaultLimits(), pf, 10000)
	eng.AttachRisk(rm, func() float64 { return 10000 })

	rejected := make(chan string, 1)
	eng.OnReject = func(sig Signal, reason string) { rejected <- reason }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	candleCh := make(chan model.TFCandle, 1)
	go eng.Run(ctx, candleCh)

	candleCh <- tfCandle(50000) // 1.0 * 50000 = 50000 notional > 1000 cap

	select {
	case reason := <-rejected:
		if reason != "position notional exceeds limit" {
			t.Errorf("reject reason: %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rejection")
	}

	select {
	case sig := <-eng.Signals():
		t.Fatalf("rejected signal leaked through: %+v", sig)
	default:
	}
}

func TestEngine_ProcessReturnsGatedSignals(t *testing.T) {
	eng := NewEngine(10)
	eng.Register(&fixedStrategy{sig: Signal{
		StrategyName: "fixed", Action: ActionBuy,
		Symbol: "BTCUSDT", Exchange: "BINANCE",
	}})

	pf := portfolio.New()
	rm := portfolio.NewRiskManager(portfolio.DefaultSizingParams(), portfolio.DefaultLimits(), pf, 10000)
	eng.AttachRisk(rm, func() float64 { return 10000 })

	sigs := eng.Process(tfCandle(50000))
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	if sigs[0].Size != 0.02 {
		t.Errorf("sized qty: got %v, want 0.02", sigs[0].Size)
	}
	if sigs[0].Price != 50000 {
		t.Errorf("stamped price: got %v, want 50000", sigs[0].Price)
	}

	// The synchronous path returns signals instead of delivering them.
	select {
	case sig := <-eng.Signals():
		t.Fatalf("Process leaked a signal to the channel: %+v", sig)
	default:
	}
}

func TestEngine_ProcessSkipsForming(t *testing.T) {
	eng := NewEngine(10)
	eng.Register(&fixedStrategy{sig: Signal{
		StrategyName: "fixed", Action: ActionBuy,
		Symbol: "BTCUSDT", Exchange: "BINANCE", Size: 0.001,
	}})

	forming := tfCandle(50000)
	forming.Forming = true
	if sigs := eng.Process(forming); sigs != nil {
		t.Fatalf("forming candle produced signals: %+v", sigs)
	}
}

func TestEngine_SkipsFormingCandles(t *testing.T) {
	eng := NewEngine(10)
	eng.Register(&fixedStrategy{sig: Signal{
		StrategyName: "fixed", Action: ActionBuy,
		Symbol: "BTCUSDT", Exchange: "BINANCE", Size: 0.001,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	candleCh := make(chan model.TFCandle, 2)
	go eng.Run(ctx, candleCh)

	forming := tfCandle(50000)
	forming.Forming = true
	candleCh <- forming
	candleCh <- tfCandle(50000)

	select {
	case <-eng.Signals():
	case <-time.After(2 * time.Second):
		t.Fatal("closed candle never produced a signal")
	}

	select {
	case sig := <-eng.Signals():
		t.Fatalf("forming candle produced a signal: %+v", sig)
	default:
	}
}
