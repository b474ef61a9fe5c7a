package config

import (
	"testing"
)

// ────────────────────────────────────────────────────────────
// Env getters
// ────────────────────────────────────────────────────────────

func TestGetEnv_Fallback(t *testing.T) {
	if v := GetEnv("CFG_TEST_UNSET_KEY", "fallback"); v != "fallback" {
		t.Errorf("expected fallback, got %q", v)
	}
	t.Setenv("CFG_TEST_SET_KEY", "value")
	if v := GetEnv("CFG_TEST_SET_KEY", "fallback"); v != "value" {
		t.Errorf("expected value, got %q", v)
	}
}

func TestGetEnvInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-a-number")
	if v := GetEnvInt("CFG_TEST_INT", 30); v != 30 {
		t.Errorf("expected 30, got %d", v)
	}
	t.Setenv("CFG_TEST_INT", "-5")
	if v := GetEnvInt("CFG_TEST_INT", 30); v != 30 {
		t.Errorf("non-positive should fall back, got %d", v)
	}
	t.Setenv("CFG_TEST_INT", "45")
	if v := GetEnvInt("CFG_TEST_INT", 30); v != 45 {
		t.Errorf("expected 45, got %d", v)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"1": true, "true": true, "YES": true, "0": false, "false": false, "NO": false}
	for raw, want := range cases {
		t.Setenv("CFG_TEST_BOOL", raw)
		if got := GetEnvBool("CFG_TEST_BOOL", !want); got != want {
			t.Errorf("%q: expected %v, got %v", raw, want, got)
		}
	}
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := GetEnvBool("CFG_TEST_BOOL", true); got != true {
		t.Error("unparseable should fall back")
	}
}

func TestMustEnv_Present(t *testing.T) {
	t.Setenv("CFG_TEST_REQUIRED", "value")
	if v := MustEnv("CFG_TEST_REQUIRED"); v != "value" {
		t.Errorf("expected value, got %q", v)
	}
	// The missing-key path calls log.Fatalf and is not testable in-process.
}

// ────────────────────────────────────────────────────────────
// Parsers
// ────────────────────────────────────────────────────────────

func TestParseTFs(t *testing.T) {
	tfs := ParseTFs("60, 300,900,,abc,-5")
	want := []int{60, 300, 900}
	if len(tfs) != len(want) {
		t.Fatalf("expected %d TFs, got %v", len(want), tfs)
	}
	for i := range want {
		if tfs[i] != want[i] {
			t.Errorf("tf[%d]: expected %d, got %d", i, want[i], tfs[i])
		}
	}
}

func TestParseMarkets(t *testing.T) {
	keys := ParseMarkets("BINANCE:BTCUSDT, ethusdt ,COINBASE:SOLUSDT")
	want := []string{"BINANCE:BTCUSDT", "BINANCE:ETHUSDT", "COINBASE:SOLUSDT"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d]: expected %s, got %s", i, want[i], keys[i])
		}
	}
}

func TestSymbols(t *testing.T) {
	syms := Symbols([]string{"BINANCE:BTCUSDT", "COINBASE:SOLUSDT"})
	if syms[0] != "BTCUSDT" || syms[1] != "SOLUSDT" {
		t.Errorf("unexpected symbols: %v", syms)
	}
}

func TestParseIndicatorSpecs_TwoParam(t *testing.T) {
	specs := ParseIndicatorSpecs("EMA:10,RSI:14,ATR:14,EWO:5:35,STOCHRSI:14:14")
	if len(specs) != 5 {
		t.Fatalf("expected 5 specs, got %d", len(specs))
	}
	if specs[0].Type != "EMA" || specs[0].Period != 10 || specs[0].Period2 != 0 {
		t.Errorf("spec[0] wrong: %+v", specs[0])
	}
	if specs[3].Type != "EWO" || specs[3].Period != 5 || specs[3].Period2 != 35 {
		t.Errorf("spec[3] wrong: %+v", specs[3])
	}
	if specs[4].Type != "STOCHRSI" || specs[4].Period != 14 || specs[4].Period2 != 14 {
		t.Errorf("spec[4] wrong: %+v", specs[4])
	}
}

func TestParseIndicatorSpecs_SkipsInvalid(t *testing.T) {
	specs := ParseIndicatorSpecs("EMA:0,RSI:abc,SMA:20,EWO:5:35:99")
	if len(specs) != 1 {
		t.Fatalf("expected only SMA:20 to survive, got %+v", specs)
	}
	if specs[0].Type != "SMA" || specs[0].Period != 20 {
		t.Errorf("unexpected spec: %+v", specs[0])
	}
}

func TestParseIndicatorSpecs_EmptyUsesDefaults(t *testing.T) {
	specs := ParseIndicatorSpecs("")
	if len(specs) == 0 {
		t.Fatal("expected default specs")
	}
	seen := make(map[string]bool)
	for _, s := range specs {
		seen[s.Type] = true
	}
	for _, typ := range []string{"SMA", "EMA", "RSI", "ATR", "EWO", "STOCHRSI"} {
		if !seen[typ] {
			t.Errorf("defaults missing %s", typ)
		}
	}
}

func TestBuildTFConfigs(t *testing.T) {
	specs := ParseIndicatorSpecs("SMA:20")
	cfgs := BuildTFConfigs([]int{60, 300}, specs)
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 TF configs, got %d", len(cfgs))
	}
	if cfgs[0].TF != 60 || cfgs[1].TF != 300 {
		t.Errorf("unexpected TFs: %d, %d", cfgs[0].TF, cfgs[1].TF)
	}
	if len(cfgs[0].Indicators) != 1 || cfgs[0].Indicators[0].Type != "SMA" {
		t.Errorf("unexpected indicator set: %+v", cfgs[0].Indicators)
	}
}
