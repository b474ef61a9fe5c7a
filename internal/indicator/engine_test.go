package indicator

import (
	"context"
	"math"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
)

// sealed builds a completed TF candle with a half-point range around the
// close. Volume and Count are arbitrary nonzero values.
func sealed(symbol string, tf int, close float64) model.TFCandle {
	return model.TFCandle{
		Symbol:   symbol,
		Exchange: "BINANCE",
		TF:       tf,
		TS:       time.Now().UTC(),
		Open:     close,
		High:     close + 0.5,
		Low:      close - 0.5,
		Close:    close,
		Volume:   12.5,
		Count:    60,
	}
}

// formingAt is sealed with the forming flag set.
func formingAt(symbol string, tf int, close float64) model.TFCandle {
	c := sealed(symbol, tf, close)
	c.Forming = true
	return c
}

// oneTF wraps a set of indicator configs into a single-timeframe engine
// config.
func oneTF(tf int, inds ...IndicatorConfig) []TFIndicatorConfig {
	return []TFIndicatorConfig{{TF: tf, Indicators: inds}}
}

// feedN pushes n identical sealed BTCUSDT 60s candles through the engine.
func feedN(e *Engine, n int, close float64) {
	for i := 0; i < n; i++ {
		e.Process(sealed("BTCUSDT", 60, close))
	}
}

func mustEngine(t *testing.T, configs []TFIndicatorConfig) *Engine {
	t.Helper()
	e, err := NewEngine(configs)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestNewEngine_RejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name    string
		configs []TFIndicatorConfig
	}{
		{"zero period", oneTF(60, IndicatorConfig{Type: "SMA", Period: 0})},
		{"unknown type", oneTF(60, IndicatorConfig{Type: "MACD", Period: 12})},
		{"ewo unordered", oneTF(60, IndicatorConfig{Type: "EWO", Period: 35, Period2: 5})},
		{"non-positive tf", oneTF(0, IndicatorConfig{Type: "SMA", Period: 5})},
		{"duplicate tf", []TFIndicatorConfig{
			{TF: 60, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
			{TF: 60, Indicators: []IndicatorConfig{{Type: "EMA", Period: 5}}},
		}},
	}
	for _, tc := range cases {
		if _, err := NewEngine(tc.configs); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestEngine_SMAWarmup(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 20}))

	// Closes 1..25. Once the window fills at candle 20, the mean of the
	// last 20 integers ending at n is n-9.5, exact in float64.
	for n := 1; n <= 25; n++ {
		res := engine.Process(sealed("BTCUSDT", 60, float64(n)))
		if len(res) != 1 {
			t.Fatalf("candle %d: got %d results, want 1", n, len(res))
		}
		r := res[0]
		if r.Name != "SMA_20" {
			t.Fatalf("candle %d: name %q, want SMA_20", n, r.Name)
		}
		if n < 20 {
			if r.Ready {
				t.Errorf("candle %d: ready during warmup", n)
			}
			continue
		}
		if !r.Ready {
			t.Errorf("candle %d: not ready after window filled", n)
		}
		if want := float64(n) - 9.5; r.Value != want {
			t.Errorf("candle %d: SMA=%v, want %v", n, r.Value, want)
		}
	}
}

func TestEngine_FanoutPerCandle(t *testing.T) {
	engine := mustEngine(t, oneTF(60,
		IndicatorConfig{Type: "SMA", Period: 5},
		IndicatorConfig{Type: "EMA", Period: 5},
		IndicatorConfig{Type: "RSI", Period: 14},
		IndicatorConfig{Type: "ATR", Period: 14},
	))

	// Every candle yields one result per configured indicator, in config
	// order, warming or not.
	want := []string{"SMA_5", "EMA_5", "RSI_14", "ATR_14"}
	for i := 0; i < 20; i++ {
		res := engine.Process(sealed("ETHUSDT", 60, 3000+float64(i)))
		if len(res) != len(want) {
			t.Fatalf("candle %d: got %d results, want %d", i, len(res), len(want))
		}
		for j, r := range res {
			if r.Name != want[j] {
				t.Fatalf("candle %d, slot %d: name %q, want %q", i, j, r.Name, want[j])
			}
		}
	}
}

func TestEngine_TwoParamIndicatorNames(t *testing.T) {
	engine := mustEngine(t, oneTF(60,
		IndicatorConfig{Type: "EWO", Period: 5, Period2: 35},
		IndicatorConfig{Type: "STOCHRSI", Period: 14, Period2: 14},
	))

	results := engine.Process(sealed("BTCUSDT", 60, 100))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "EWO_5_35" {
		t.Errorf("expected name=EWO_5_35, got %s", results[0].Name)
	}
	if results[1].Name != "STOCHRSI_14_14" {
		t.Errorf("expected name=STOCHRSI_14_14, got %s", results[1].Name)
	}
}

func TestEngine_RoutesByTimeframe(t *testing.T) {
	engine := mustEngine(t, append(
		oneTF(60, IndicatorConfig{Type: "SMA", Period: 5}),
		oneTF(300, IndicatorConfig{Type: "EMA", Period: 10})...,
	))

	for _, tc := range []struct {
		tf       int
		wantName string
	}{
		{60, "SMA_5"},
		{300, "EMA_10"},
	} {
		res := engine.Process(sealed("BTCUSDT", tc.tf, 50))
		if len(res) != 1 {
			t.Fatalf("tf=%d: got %d results, want 1", tc.tf, len(res))
		}
		if res[0].Name != tc.wantName || res[0].TF != tc.tf {
			t.Errorf("tf=%d: got %s (tf=%d), want %s", tc.tf, res[0].Name, res[0].TF, tc.wantName)
		}
	}

	// A timeframe nobody configured is ignored, not an error.
	if res := engine.Process(sealed("BTCUSDT", 900, 50)); res != nil {
		t.Fatalf("unconfigured tf: got %d results, want none", len(res))
	}
}

func TestEngine_RejectsNonFiniteCandles(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 3}))

	var hookCalls int
	engine.OnReject = func(tfc model.TFCandle) { hookCalls++ }

	// Two good candles first.
	engine.Process(sealed("BTCUSDT", 60, 100))
	engine.Process(sealed("BTCUSDT", 60, 102))

	// NaN close stops at the boundary.
	bad := sealed("BTCUSDT", 60, 100)
	bad.Close = math.NaN()
	if results := engine.Process(bad); results != nil {
		t.Fatalf("expected nil results for NaN close, got %d", len(results))
	}

	// So does an infinite high.
	bad2 := sealed("BTCUSDT", 60, 100)
	bad2.High = math.Inf(1)
	if results := engine.Process(bad2); results != nil {
		t.Fatalf("expected nil results for Inf high, got %d", len(results))
	}

	if engine.Rejected() != 2 {
		t.Errorf("expected Rejected()=2, got %d", engine.Rejected())
	}
	if hookCalls != 2 {
		t.Errorf("expected OnReject called twice, got %d", hookCalls)
	}

	// The bad candles must not have touched indicator state: a third good
	// candle completes the SMA(3) warmup over 100, 102, 104.
	results := engine.Process(sealed("BTCUSDT", 60, 104))
	if !results[0].Ready {
		t.Fatal("SMA should be ready after 3 good candles")
	}
	if math.Abs(results[0].Value-102.0) > 0.001 {
		t.Errorf("expected SMA=102.0 over the good candles only, got %.4f", results[0].Value)
	}
}

func TestEngine_RunSkipsForming(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 2}))

	in := make(chan model.TFCandle, 3)
	out := make(chan model.IndicatorResult, 8)

	in <- formingAt("ETHUSDT", 60, 50)
	in <- sealed("ETHUSDT", 60, 51)
	in <- sealed("ETHUSDT", 60, 53)
	close(in)

	// Run returns when the input channel closes.
	engine.Run(context.Background(), in, out)
	close(out)

	var got []model.IndicatorResult
	for r := range out {
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2; the forming candle must not emit", len(got))
	}
	if got[0].Ready {
		t.Error("first sealed candle: SMA(2) cannot be ready yet")
	}
	if !got[1].Ready || got[1].Value != 52 {
		t.Errorf("second sealed candle: got ready=%v value=%v, want ready at 52", got[1].Ready, got[1].Value)
	}
}

func TestProcessPeek_UnseededMarket(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 5}))

	// No completed candle has ever arrived for this market, so there is
	// nothing to peek against.
	if results := engine.ProcessPeek(formingAt("SOLUSDT", 60, 50)); results != nil {
		t.Fatalf("expected nil for unseeded market, got %d results", len(results))
	}
}

func TestProcessPeek_FormingCandle(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 5}))

	// Five completed candles at 100 make the SMA ready.
	feedN(engine, 5, 100)

	// A forming candle at 110 previews as (100*4 + 110)/5 = 102.
	results := engine.ProcessPeek(formingAt("BTCUSDT", 60, 110))
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if !r.Live {
		t.Error("peek results must carry the live flag")
	}
	if !r.Ready {
		t.Error("SMA should be ready")
	}
	if r.Value != 102 {
		t.Errorf("peek value %v, want 102", r.Value)
	}
}

func TestProcessPeek_DoesNotMutateState(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 5}))

	feedN(engine, 5, 100)
	baseline := engine.Process(sealed("BTCUSDT", 60, 100))

	// Peek an absurd price, then confirm the next real candle sees the
	// same window as before.
	engine.ProcessPeek(formingAt("BTCUSDT", 60, 999))

	after := engine.Process(sealed("BTCUSDT", 60, 100))
	if after[0].Value != baseline[0].Value {
		t.Errorf("peek leaked into state: before=%v after=%v", baseline[0].Value, after[0].Value)
	}
}

func TestReloadConfigs_PreservesState(t *testing.T) {
	engine := mustEngine(t, oneTF(60, IndicatorConfig{Type: "SMA", Period: 5}))

	// Warm the SMA fully on one market.
	feedN(engine, 5, 100)

	// Add EMA_5 alongside the existing SMA_5. The warm SMA state must
	// migrate; the EMA starts cold.
	preserved, created := engine.ReloadConfigs(oneTF(60,
		IndicatorConfig{Type: "SMA", Period: 5},
		IndicatorConfig{Type: "EMA", Period: 5},
	))
	if preserved != 1 {
		t.Errorf("preserved=%d, want 1 migrated market state", preserved)
	}
	if created != 1 {
		t.Errorf("created=%d, want 1", created)
	}

	results := engine.Process(sealed("BTCUSDT", 60, 100))
	if len(results) != 2 {
		t.Fatalf("expected 2 results after reload, got %d", len(results))
	}
	for _, r := range results {
		switch r.Name {
		case "SMA_5":
			if !r.Ready || r.Value != 100 {
				t.Errorf("SMA_5 lost its warmup: ready=%v value=%v", r.Ready, r.Value)
			}
		case "EMA_5":
			if r.Ready {
				t.Error("EMA_5 should cold-start")
			}
		default:
			t.Errorf("unexpected result %s", r.Name)
		}
	}

	// Timeframes outside the new config stay unconfigured.
	if res := engine.Process(sealed("BTCUSDT", 900, 100)); res != nil {
		t.Fatalf("tf 900: got %d results, want none", len(res))
	}
}
