package gateway

import "testing"

// ──────────────────── indicator spec resolution ────────────────────

func TestIndicatorSpecToName(t *testing.T) {
	tests := []struct {
		name string
		spec IndicatorSpec
		want string
	}{
		{"single_param", IndicatorSpec{ID: "sma", Params: map[string]int{"length": 20}}, "SMA_20"},
		{"default_length", IndicatorSpec{ID: "rsi", Params: map[string]int{}}, "RSI_14"},
		{"nil_params", IndicatorSpec{ID: "ema"}, "EMA_14"},
		{"two_params_ewo", IndicatorSpec{ID: "ewo", Params: map[string]int{"length": 5, "length2": 35}}, "EWO_5_35"},
		{"two_params_stochrsi", IndicatorSpec{ID: "stochrsi", Params: map[string]int{"length": 14, "length2": 14}}, "STOCHRSI_14_14"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IndicatorSpecToName(tt.spec); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIndicatorSpecToConfig(t *testing.T) {
	spec := IndicatorSpec{ID: "ewo", Params: map[string]int{"length": 5, "length2": 35}}
	if got := IndicatorSpecToConfig(spec); got != "EWO:5:35" {
		t.Errorf("got %q, want EWO:5:35", got)
	}

	spec = IndicatorSpec{ID: "smma", Params: map[string]int{"length": 21}}
	if got := IndicatorSpecToConfig(spec); got != "SMMA:21" {
		t.Errorf("got %q, want SMMA:21", got)
	}
}

// ──────────────────── MTF entry resolution ────────────────────

func TestResolveIndEntries_CompositeIdentity(t *testing.T) {
	specs := []IndicatorSpec{
		{ID: "sma", Params: map[string]int{"length": 20}},          // inherits default TF
		{ID: "sma", Params: map[string]int{"length": 20}, TF: 300}, // explicit TF override
	}

	entries := ResolveIndEntries(specs, 60)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key() != "SMA_20:60" {
		t.Errorf("entry[0] key: got %q, want SMA_20:60", entries[0].Key())
	}
	if entries[1].Key() != "SMA_20:300" {
		t.Errorf("entry[1] key: got %q, want SMA_20:300", entries[1].Key())
	}
	if entries[0].Key() == entries[1].Key() {
		t.Error("same indicator on different TFs must not collide")
	}
}

// ──────────────────── price-band filtering ────────────────────

func TestIsPriceOverlay(t *testing.T) {
	overlays := []string{"SMA_20", "EMA_9", "SMMA_21"}
	for _, name := range overlays {
		if !isPriceOverlay(name) {
			t.Errorf("%s should be a price overlay", name)
		}
	}

	oscillators := []string{"RSI_14", "EWO_5_35", "STOCHRSI_14_14", "ATR_14"}
	for _, name := range oscillators {
		if isPriceOverlay(name) {
			t.Errorf("%s should not be filtered against the price band", name)
		}
	}
}

// ──────────────────── subscription keys ────────────────────

func TestSubKey(t *testing.T) {
	sub := &ClientSubscription{Symbol: "BINANCE:BTCUSDT", TF: 60}
	if got := sub.SubKey(); got != "BINANCE:BTCUSDT:60" {
		t.Errorf("got %q, want BINANCE:BTCUSDT:60", got)
	}
}
