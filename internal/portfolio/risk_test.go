package portfolio

import (
	"math"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func fptr(v float64) *float64 { return &v }

func candleAt(symbol string, close float64) model.Candle {
	return model.Candle{Symbol: symbol, Exchange: "BINANCE", Open: close, High: close, Low: close, Close: close}
}

func newTestRM() (*RiskManager, *Portfolio) {
	pf := New()
	rm := NewRiskManager(DefaultSizingParams(), DefaultLimits(), pf, 10000)
	return rm, pf
}

// ────────────────────────────────────────────────────────────
// Position sizing
// ────────────────────────────────────────────────────────────

func TestComputePositionSize_CapBound(t *testing.T) {
	// Defaults: MaxPositionSize=1000, RiskPerTrade=0.01, StopLossPct=0.02.
	// balance=10000, price=50000:
	//   byCap  = 1000/50000                  = 0.02
	//   byRisk = 10000*0.01/(50000*0.02)     = 0.10
	//   → min = 0.02 (the cap binds)
	rm, _ := newTestRM()
	size := rm.ComputePositionSize(10000, 50000)
	assertClose(t, "size (10000, 50000)", size, 0.02, 1e-9)
}

func TestComputePositionSize_RiskBound(t *testing.T) {
	// balance=1000, price=100:
	//   byCap  = 1000/100              = 10
	//   byRisk = 1000*0.01/(100*0.02)  = 5
	//   → min = 5 (the risk budget binds)
	rm, _ := newTestRM()
	size := rm.ComputePositionSize(1000, 100)
	assertClose(t, "size (1000, 100)", size, 5.0, 1e-9)
}

func TestComputePositionSize_NonPositivePrice(t *testing.T) {
	rm, _ := newTestRM()
	if size := rm.ComputePositionSize(10000, 0); size != 0 {
		t.Errorf("price=0 should size to 0, got %.6f", size)
	}
	if size := rm.ComputePositionSize(10000, -50); size != 0 {
		t.Errorf("negative price should size to 0, got %.6f", size)
	}
}

func TestComputePositionSize_ZeroBalance(t *testing.T) {
	rm, _ := newTestRM()
	assertClose(t, "size (0, 100)", rm.ComputePositionSize(0, 100), 0.0, 1e-12)
}

func TestComputePositionSize_NeverNegative(t *testing.T) {
	rm, _ := newTestRM()
	// A negative balance makes the risk leg negative — size floors at 0.
	if size := rm.ComputePositionSize(-5000, 100); size < 0 {
		t.Errorf("size went negative: %.6f", size)
	}
}

func TestAssessRisk_Prices(t *testing.T) {
	// stop = price*(1-0.02), target = price*(1+0.04)
	rm, _ := newTestRM()
	a := rm.AssessRisk(10000, 50000)
	assertClose(t, "position size", a.PositionSize, 0.02, 1e-9)
	assertClose(t, "stop loss", a.StopLoss, 49000.0, 1e-6)
	assertClose(t, "take profit", a.TakeProfit, 52000.0, 1e-6)
}

// ────────────────────────────────────────────────────────────
// Parameter updates
// ────────────────────────────────────────────────────────────

func TestUpdateParams_PartialMerge(t *testing.T) {
	rm, _ := newTestRM()
	if err := rm.UpdateParams(ParamsUpdate{RiskPerTrade: fptr(0.02)}); err != nil {
		t.Fatal(err)
	}
	p := rm.Params()
	assertClose(t, "risk_per_trade", p.RiskPerTrade, 0.02, 1e-12)
	assertClose(t, "stop_loss_pct untouched", p.StopLossPct, 0.02, 1e-12)
	assertClose(t, "take_profit_pct untouched", p.TakeProfitPct, 0.04, 1e-12)
	assertClose(t, "max_position_size untouched", p.MaxPositionSize, 1000.0, 1e-12)
}

func TestUpdateParams_RejectsInvalid(t *testing.T) {
	rm, _ := newTestRM()
	cases := []ParamsUpdate{
		{RiskPerTrade: fptr(0)},
		{RiskPerTrade: fptr(1)},
		{RiskPerTrade: fptr(-0.5)},
		{StopLossPct: fptr(0)},
		{StopLossPct: fptr(1.5)},
		{TakeProfitPct: fptr(0)},
		{MaxPositionSize: fptr(0)},
		{MaxPositionSize: fptr(-100)},
	}
	for i, u := range cases {
		if err := rm.UpdateParams(u); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestUpdateParams_InvalidLeavesAllUntouched(t *testing.T) {
	// One valid field + one invalid field: the whole update is rejected.
	rm, _ := newTestRM()
	err := rm.UpdateParams(ParamsUpdate{
		RiskPerTrade: fptr(0.05),
		StopLossPct:  fptr(2.0),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	p := rm.Params()
	assertClose(t, "risk_per_trade untouched", p.RiskPerTrade, 0.01, 1e-12)
	assertClose(t, "stop_loss_pct untouched", p.StopLossPct, 0.02, 1e-12)
}

func TestUpdateParams_AffectsSizing(t *testing.T) {
	rm, _ := newTestRM()
	if err := rm.UpdateParams(ParamsUpdate{MaxPositionSize: fptr(2000.0)}); err != nil {
		t.Fatal(err)
	}
	// byCap doubles: 2000/50000 = 0.04, still below byRisk 0.10
	assertClose(t, "size after update", rm.ComputePositionSize(10000, 50000), 0.04, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Trade gating
// ────────────────────────────────────────────────────────────

func TestCanTrade_AllowsSmallTrade(t *testing.T) {
	rm, _ := newTestRM()
	ok, reason := rm.CanTrade("BTCUSDT", "BINANCE", 0.01, 50000)
	if !ok {
		t.Errorf("small trade should be allowed, got: %s", reason)
	}
}

func TestCanTrade_NotionalLimit(t *testing.T) {
	rm, _ := newTestRM()
	// 0.05 * 50000 = 2500 > MaxPositionSize 1000
	ok, reason := rm.CanTrade("BTCUSDT", "BINANCE", 0.05, 50000)
	if ok {
		t.Error("oversized trade should be denied")
	}
	if reason != "position notional exceeds limit" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestCanTrade_MaxOpenPositions(t *testing.T) {
	rm, pf := newTestRM()
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT"}
	for _, s := range symbols {
		pf.ApplyFill(s, "BINANCE", "BUY", 1, 100)
	}

	// A sixth market is denied
	ok, reason := rm.CanTrade("DOGEUSDT", "BINANCE", 1, 100)
	if ok {
		t.Error("sixth position should be denied")
	}
	if reason != "max open positions reached" {
		t.Errorf("unexpected reason: %s", reason)
	}

	// Adding to an existing market is not a new position
	ok, _ = rm.CanTrade("BTCUSDT", "BINANCE", 1, 100)
	if !ok {
		t.Error("adding to existing position should be allowed")
	}
}

func TestCanTrade_ExposureLimit(t *testing.T) {
	rm, pf := newTestRM()
	// Build 10000 of exposure (the default MaxExposure)
	pf.ApplyFill("BTCUSDT", "BINANCE", "BUY", 0.2, 50000)

	ok, reason := rm.CanTrade("BTCUSDT", "BINANCE", 0.01, 50000)
	if ok {
		t.Error("trade above exposure limit should be denied")
	}
	if reason != "max exposure exceeded" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestCanTrade_DailyLossLimit(t *testing.T) {
	rm, _ := newTestRM()
	rm.RecordPnL(-600) // below -500 limit

	ok, reason := rm.CanTrade("BTCUSDT", "BINANCE", 0.001, 50000)
	if ok {
		t.Error("trade after daily loss breach should be denied")
	}
	if reason != "max daily loss reached" {
		t.Errorf("unexpected reason: %s", reason)
	}

	// Reset clears the gate (drawdown stays within 5%: 600/10000 = 6%...
	// equity tracking keeps the losses, so use a smaller loss to isolate)
	rm2, _ := newTestRM()
	rm2.RecordPnL(-501)
	rm2.ResetDaily()
	// 501/10000 = 5.01% drawdown > 5% — still denied, but for drawdown now
	ok, reason = rm2.CanTrade("BTCUSDT", "BINANCE", 0.001, 50000)
	if ok {
		t.Error("expected drawdown denial after reset")
	}
	if reason != "max drawdown exceeded" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestCanTrade_DrawdownLimit(t *testing.T) {
	pf := New()
	rm := NewRiskManager(DefaultSizingParams(), DefaultLimits(), pf, 1000)
	rm.RecordPnL(-60) // 6% drawdown from peak 1000, within daily loss cap

	ok, reason := rm.CanTrade("BTCUSDT", "BINANCE", 0.001, 50000)
	if ok {
		t.Error("trade above drawdown limit should be denied")
	}
	if reason != "max drawdown exceeded" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestRecordPnL_TracksPeak(t *testing.T) {
	rm, _ := newTestRM()
	rm.RecordPnL(500)  // equity 10500, peak 10500
	rm.RecordPnL(-200) // equity 10300, peak stays 10500

	st := rm.Status()
	assertClose(t, "daily_pnl", st["daily_pnl"].(float64), 300.0, 1e-9)
	assertClose(t, "equity", st["equity"].(float64), 10300.0, 1e-9)
	assertClose(t, "peak_equity", st["peak_equity"].(float64), 10500.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Portfolio fills
// ────────────────────────────────────────────────────────────

func TestPortfolio_ApplyFill_WeightedAverage(t *testing.T) {
	pf := New()
	pf.ApplyFill("BTCUSDT", "BINANCE", "BUY", 1, 100)
	pf.ApplyFill("BTCUSDT", "BINANCE", "BUY", 1, 110)

	pos, ok := pf.Get("BTCUSDT", "BINANCE")
	if !ok {
		t.Fatal("position should exist")
	}
	assertClose(t, "qty", pos.Qty, 2.0, 1e-12)
	assertClose(t, "avg price", pos.AvgPrice, 105.0, 1e-9)
}

func TestPortfolio_ApplyFill_RealizesOnSell(t *testing.T) {
	pf := New()
	pf.ApplyFill("BTCUSDT", "BINANCE", "BUY", 2, 105)

	realized := pf.ApplyFill("BTCUSDT", "BINANCE", "SELL", 1, 120)
	assertClose(t, "realized", realized, 15.0, 1e-9)

	pos, _ := pf.Get("BTCUSDT", "BINANCE")
	assertClose(t, "remaining qty", pos.Qty, 1.0, 1e-12)
	assertClose(t, "cumulative realized", pos.RealizedPnL, 15.0, 1e-9)
}

func TestPortfolio_ApplyFill_OverSellClamps(t *testing.T) {
	pf := New()
	pf.ApplyFill("BTCUSDT", "BINANCE", "BUY", 1, 105)

	// Selling 2 with only 1 held clamps to the held quantity
	realized := pf.ApplyFill("BTCUSDT", "BINANCE", "SELL", 2, 90)
	assertClose(t, "realized", realized, -15.0, 1e-9)

	pos, _ := pf.Get("BTCUSDT", "BINANCE")
	assertClose(t, "qty flattened", pos.Qty, 0.0, 1e-12)
	assertClose(t, "avg cleared", pos.AvgPrice, 0.0, 1e-12)
}

func TestPortfolio_UnrealizedFromLastPrice(t *testing.T) {
	pf := New()
	pf.ApplyFill("ETHUSDT", "BINANCE", "BUY", 2, 2000)
	pf.UpdatePrice(candleAt("ETHUSDT", 2100))

	assertClose(t, "unrealized", pf.TotalUnrealizedPnL(), 200.0, 1e-9)
	assertClose(t, "exposure", pf.TotalExposure(), 4200.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// PnL tracker
// ────────────────────────────────────────────────────────────

func TestPnLTracker_RoundTrip(t *testing.T) {
	p := NewPnLTracker()
	now := time.Now()

	p.RecordTrade(Trade{Symbol: "BTCUSDT", Exchange: "BINANCE", Action: "BUY", Qty: 2, Price: 100, Timestamp: now})
	p.RecordTrade(Trade{Symbol: "BTCUSDT", Exchange: "BINANCE", Action: "BUY", Qty: 2, Price: 110, Timestamp: now})
	// avg = (200+220)/4 = 105
	realized := p.RecordTrade(Trade{Symbol: "BTCUSDT", Exchange: "BINANCE", Action: "SELL", Qty: 2, Price: 120, Timestamp: now})
	assertClose(t, "realized on sell", realized, 30.0, 1e-9)
	assertClose(t, "total realized", p.GetRealizedPnL(), 30.0, 1e-9)

	prices := map[string]float64{"BINANCE:BTCUSDT": 115}
	assertClose(t, "unrealized", p.GetUnrealizedPnL(prices), 20.0, 1e-9)

	sum := p.GetSummary(prices)
	assertClose(t, "summary total", sum.TotalPnL, 50.0, 1e-9)
	if sum.TotalTrades != 3 {
		t.Errorf("expected 3 trades, got %d", sum.TotalTrades)
	}
	if sum.OpenPositions != 1 {
		t.Errorf("expected 1 open position, got %d", sum.OpenPositions)
	}
}
