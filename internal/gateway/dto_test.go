package gateway

import (
	"math"
	"testing"
)

func haCandle(o, h, l, c float64) CandleOut {
	return CandleOut{Open: o, High: h, Low: l, Close: c, Symbol: "BTCUSDT", Exchange: "BINANCE", TF: 60}
}

func TestHeikinAshi_Empty(t *testing.T) {
	if got := HeikinAshi(nil); len(got) != 0 {
		t.Fatalf("expected empty output, got %d", len(got))
	}
}

func TestHeikinAshi_FirstBarSeed(t *testing.T) {
	in := []CandleOut{haCandle(100, 110, 90, 104)}
	out := HeikinAshi(in)

	// haClose = (100+110+90+104)/4 = 101, haOpen = (100+104)/2 = 102
	if math.Abs(out[0].Close-101) > 1e-9 {
		t.Errorf("haClose: got %f, want 101", out[0].Close)
	}
	if math.Abs(out[0].Open-102) > 1e-9 {
		t.Errorf("haOpen: got %f, want 102", out[0].Open)
	}
	if out[0].High != 110 {
		t.Errorf("haHigh: got %f, want 110", out[0].High)
	}
	if out[0].Low != 90 {
		t.Errorf("haLow: got %f, want 90", out[0].Low)
	}
}

func TestHeikinAshi_ChainsFromPreviousBar(t *testing.T) {
	in := []CandleOut{
		haCandle(100, 110, 90, 104),
		haCandle(104, 112, 102, 110),
	}
	out := HeikinAshi(in)

	// Second bar: haOpen = (prevHAOpen+prevHAClose)/2 = (102+101)/2 = 101.5
	if math.Abs(out[1].Open-101.5) > 1e-9 {
		t.Errorf("haOpen: got %f, want 101.5", out[1].Open)
	}
	// haClose = (104+112+102+110)/4 = 107
	if math.Abs(out[1].Close-107) > 1e-9 {
		t.Errorf("haClose: got %f, want 107", out[1].Close)
	}
	// haHigh = max(112, 101.5, 107) = 112
	if out[1].High != 112 {
		t.Errorf("haHigh: got %f, want 112", out[1].High)
	}
}

func TestHeikinAshi_HighLowEnvelopeHA(t *testing.T) {
	// A gap-down bar where the raw high is below the HA open: the HA high
	// must expand to cover the HA body.
	in := []CandleOut{
		haCandle(100, 110, 90, 104),
		haCandle(80, 82, 78, 79),
	}
	out := HeikinAshi(in)

	haOpen := out[1].Open // (102+101)/2 = 101.5
	if out[1].High < haOpen {
		t.Errorf("haHigh %f must cover haOpen %f", out[1].High, haOpen)
	}
	if out[1].Low > out[1].Close {
		t.Errorf("haLow %f must cover haClose %f", out[1].Low, out[1].Close)
	}
}

func TestHeikinAshi_PreservesMetadata(t *testing.T) {
	in := []CandleOut{haCandle(100, 110, 90, 104)}
	in[0].TS = "2026-02-25T10:00:00Z"
	in[0].Volume = 3.5

	out := HeikinAshi(in)
	if out[0].TS != in[0].TS {
		t.Errorf("TS changed: got %q", out[0].TS)
	}
	if out[0].Volume != 3.5 {
		t.Errorf("Volume changed: got %f", out[0].Volume)
	}
	if out[0].Symbol != "BTCUSDT" || out[0].Exchange != "BINANCE" {
		t.Error("symbol/exchange metadata must be preserved")
	}
}
