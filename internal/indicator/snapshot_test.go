package indicator

import (
	"encoding/json"
	"testing"

	"crypto-systemv1/internal/model"
)

// checkpointable is what the round-trip tests need: a live indicator that
// can also be persisted and restored.
type checkpointable interface {
	Indicator
	Snapshottable
}

// walkCandles returns n deterministic OHLC candles. The delta cycle
// -2,0,2,-1,1 sums to zero, so the walk oscillates around 100 with both
// up and down moves for RSI-family indicators.
func walkCandles(n int) []model.Candle {
	out := make([]model.Candle, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += float64((i*7)%5) - 2
		out = append(out, model.Candle{
			Open:  price - 1,
			High:  price + 2,
			Low:   price - 2,
			Close: price,
		})
	}
	return out
}

// TestSnapshot_RoundTrip_AllIndicators drives every indicator type through
// the persistence path the checkpointer actually uses: snapshot, JSON
// encode/decode, restore into a fresh instance. The restored copy must
// agree exactly, both immediately and on every candle that follows.
func TestSnapshot_RoundTrip_AllIndicators(t *testing.T) {
	cases := []struct {
		name string
		make func() (checkpointable, error)
	}{
		{"SMA_5", func() (checkpointable, error) { return NewSMA(5) }},
		{"EMA_5", func() (checkpointable, error) { return NewEMA(5) }},
		{"SMMA_5", func() (checkpointable, error) { return NewSMMA(5) }},
		{"RSI_14", func() (checkpointable, error) { return NewRSI(14) }},
		{"ATR_5", func() (checkpointable, error) { return NewATR(5) }},
		{"EWO_5_35", func() (checkpointable, error) { return NewEWO(5, 35) }},
		{"STOCHRSI_14_14", func() (checkpointable, error) { return NewStochRSI(14, 14) }},
	}

	candles := walkCandles(55)
	warm, tail := candles[:45], candles[45:]

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := tc.make()
			if err != nil {
				t.Fatalf("construct: %v", err)
			}
			for _, c := range warm {
				a.Update(c)
			}

			data, err := json.Marshal(a.Snapshot())
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var snap IndicatorSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			b, err := tc.make()
			if err != nil {
				t.Fatalf("construct: %v", err)
			}
			if err := b.RestoreFromSnapshot(snap); err != nil {
				t.Fatalf("restore: %v", err)
			}

			if a.Value() != b.Value() {
				t.Fatalf("restored value %v, want %v", b.Value(), a.Value())
			}
			if a.Ready() != b.Ready() {
				t.Fatalf("restored ready=%v, want %v", b.Ready(), a.Ready())
			}

			// The real test of completeness: hidden state (window
			// contents, prevClose, sub-averages) must survive, so the
			// two copies can never diverge afterwards.
			for i, c := range tail {
				a.Update(c)
				b.Update(c)
				if a.Value() != b.Value() {
					t.Fatalf("diverged %d candles after restore: %v vs %v", i+1, a.Value(), b.Value())
				}
			}
		})
	}
}

func TestSnapshot_CompositeCarriesSubSnapshots(t *testing.T) {
	// Composite indicators nest their parts as pointers; losing one would
	// silently cold-start half the indicator on restore.
	ewo := mustEWO(5, 35)
	stoch := mustStochRSI(14, 14)
	for _, c := range walkCandles(40) {
		ewo.Update(c)
		stoch.Update(c)
	}

	if snap := ewo.Snapshot(); snap.Fast == nil || snap.Slow == nil {
		t.Error("EWO snapshot missing fast/slow sub-snapshots")
	}
	if snap := stoch.Snapshot(); snap.RSI == nil {
		t.Error("StochRSI snapshot missing rsi sub-snapshot")
	}
}

func TestSnapshot_Engine_RoundTrip(t *testing.T) {
	configs := []TFIndicatorConfig{
		{
			TF: 60,
			Indicators: []IndicatorConfig{
				{Type: "SMA", Period: 5},
				{Type: "EMA", Period: 5},
				{Type: "SMMA", Period: 5},
				{Type: "RSI", Period: 14},
				{Type: "ATR", Period: 14},
				{Type: "EWO", Period: 5, Period2: 35},
				{Type: "STOCHRSI", Period: 14, Period2: 14},
			},
		},
	}
	engine := mustEngine(t, configs)

	candles := walkCandles(55)
	for _, c := range candles[:45] {
		engine.Process(sealed("BTCUSDT", 60, c.Close))
	}

	snap, err := SnapshotEngine(engine, "1712000000000-7")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.StreamID != "1712000000000-7" {
		t.Errorf("stream ID %q not carried through", snap.StreamID)
	}

	// Checkpoints live in Redis as JSON; restore from the decoded form.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded EngineSnapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored, err := RestoreEngine(configs, &decoded)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	// Both engines must now be indistinguishable.
	for i, c := range candles[45:] {
		r1 := engine.Process(sealed("BTCUSDT", 60, c.Close))
		r2 := restored.Process(sealed("BTCUSDT", 60, c.Close))
		if len(r1) != len(r2) {
			t.Fatalf("candle %d: result counts %d vs %d", i, len(r1), len(r2))
		}
		for j := range r1 {
			if r1[j].Name != r2[j].Name || r1[j].Value != r2[j].Value || r1[j].Ready != r2[j].Ready {
				t.Errorf("candle %d, %s: original %v/%v, restored %v/%v",
					i, r1[j].Name, r1[j].Value, r1[j].Ready, r2[j].Value, r2[j].Ready)
			}
		}
	}
}

func TestSnapshot_Engine_ConfigChange_ColdStartsNew(t *testing.T) {
	oldConfigs := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{{Type: "EMA", Period: 10}}},
	}
	engine := mustEngine(t, oldConfigs)
	for i := 0; i < 15; i++ {
		engine.Process(sealed("BTCUSDT", 60, 100))
	}

	snap, err := SnapshotEngine(engine, "id-1")
	if err != nil {
		t.Fatal(err)
	}

	// Restore under a config that added RSI_14: the EMA comes back warm,
	// the RSI starts from scratch.
	newConfigs := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{
			{Type: "EMA", Period: 10},
			{Type: "RSI", Period: 14},
		}},
	}
	restored, err := RestoreEngine(newConfigs, snap)
	if err != nil {
		t.Fatal(err)
	}

	results := restored.Process(sealed("BTCUSDT", 60, 100))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		switch r.Name {
		case "EMA_10":
			if !r.Ready {
				t.Error("EMA_10 should be restored warm")
			}
		case "RSI_14":
			if r.Ready {
				t.Error("RSI_14 should cold-start")
			}
		}
	}
}
