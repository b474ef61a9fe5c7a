package tfbuilder

import (
	"context"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
)

// tick builds a 1s test candle at the given Unix second.
func tick(symbol string, sec int64, o, h, l, c, vol float64) model.Candle {
	return model.Candle{
		Symbol:     symbol,
		Exchange:   "BINANCE",
		TS:         time.Unix(sec, 0).UTC(),
		Open:       o,
		High:       h,
		Low:        l,
		Close:      c,
		Volume:     vol,
		TicksCount: 1,
	}
}

func alignDown(ts, tf int64) int64 { return ts - ts%tf }

// sealedOnly empties ch and keeps just the non-forming candles.
func sealedOnly(ch chan model.TFCandle) []model.TFCandle {
	var got []model.TFCandle
	for len(ch) > 0 {
		if c := <-ch; !c.Forming {
			got = append(got, c)
		}
	}
	return got
}

func TestBuilder_MinuteResample(t *testing.T) {
	b := New([]int{60})
	b.StaleTolerance = 0 // fixture timestamps are historical
	out := make(chan model.TFCandle, 5000)

	base := alignDown(1712000000, 60)

	// One full minute of drifting prices.
	for i := int64(0); i < 60; i++ {
		fi := float64(i)
		b.Run1(tick("BTCUSDT", base+i, 31000+fi, 31010+fi, 30990+fi, 31005+fi, 2.5), out)
	}
	if got := sealedOnly(out); len(got) != 0 {
		t.Fatalf("sealed candle before bucket close: %+v", got[0])
	}

	// The tick that crosses the boundary closes the minute.
	b.Run1(tick("BTCUSDT", base+60, 31100, 31110, 31090, 31105, 2.5), out)

	sealed := sealedOnly(out)
	if len(sealed) == 0 {
		t.Fatal("expected a sealed candle after bucket close")
	}

	c := sealed[0]
	if c.TF != 60 {
		t.Errorf("TF: want 60, got %d", c.TF)
	}
	if c.Symbol != "BTCUSDT" {
		t.Errorf("symbol: want BTCUSDT, got %s", c.Symbol)
	}
	if c.Open != 31000 {
		t.Errorf("open: want 31000, got %v", c.Open)
	}
	if c.Close != 31064 { // 31005 + 59
		t.Errorf("close: want 31064, got %v", c.Close)
	}
	if c.High != 31069 { // 31010 + 59
		t.Errorf("high: want 31069, got %v", c.High)
	}
	if c.Low != 30990 { // minimum hit on the first tick
		t.Errorf("low: want 30990, got %v", c.Low)
	}
	if c.Volume != 150 { // 60 * 2.5
		t.Errorf("volume: want 150, got %v", c.Volume)
	}
	if c.Count != 60 {
		t.Errorf("count: want 60, got %d", c.Count)
	}
	if c.Forming {
		t.Error("sealed candle still marked forming")
	}
}

func TestBuilder_MultipleTFs(t *testing.T) {
	b := New([]int{60, 300})
	b.StaleTolerance = 0
	out := make(chan model.TFCandle, 10000)

	base := alignDown(1712000000, 300)

	for i := int64(0); i < 300; i++ {
		b.Run1(tick("ETHUSDT", base+i, 2000, 2100, 1900, 2050, 10), out)
	}
	// Crosses both the 1m and 5m boundaries at once.
	b.Run1(tick("ETHUSDT", base+300, 2100, 2200, 2000, 2150, 10), out)

	byTF := map[int][]model.TFCandle{}
	for _, c := range sealedOnly(out) {
		byTF[c.TF] = append(byTF[c.TF], c)
	}

	if n := len(byTF[60]); n != 5 {
		t.Errorf("sealed 1m candles: want 5, got %d", n)
	}
	if n := len(byTF[300]); n != 1 {
		t.Errorf("sealed 5m candles: want 1, got %d", n)
	}
	if fiveMin := byTF[300]; len(fiveMin) > 0 {
		if fiveMin[0].Count != 300 {
			t.Errorf("5m count: want 300, got %d", fiveMin[0].Count)
		}
		if fiveMin[0].Volume != 3000 {
			t.Errorf("5m volume: want 3000, got %v", fiveMin[0].Volume)
		}
	}
}

func TestBuilder_MarketsIndependent(t *testing.T) {
	b := New([]int{60})
	b.StaleTolerance = 0
	out := make(chan model.TFCandle, 5000)

	base := alignDown(1712000000, 60)

	for i := int64(0); i < 60; i++ {
		b.Run1(tick("BTCUSDT", base+i, 100, 110, 90, 105, 1), out)
		b.Run1(tick("ETHUSDT", base+i, 200, 210, 190, 205, 2), out)
	}
	b.Run1(tick("BTCUSDT", base+60, 100, 110, 90, 105, 1), out)
	b.Run1(tick("ETHUSDT", base+60, 200, 210, 190, 205, 2), out)

	seen := map[string]bool{}
	for _, c := range sealedOnly(out) {
		seen[c.Symbol] = true
	}
	if !seen["BTCUSDT"] || !seen["ETHUSDT"] {
		t.Errorf("expected sealed candles for both markets, got %v", seen)
	}
}

func TestBuilder_Run_FlushOnCancel(t *testing.T) {
	b := New([]int{60})
	b.StaleTolerance = 0
	in := make(chan model.Candle, 200)
	out := make(chan model.TFCandle, 5000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, in, out)
		close(done)
	}()

	base := alignDown(1712000000, 60)
	for i := int64(0); i <= 60; i++ {
		in <- tick("SOLUSDT", base+i, 100, 110, 90, 105, 1)
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	emitted := 0
	for len(out) > 0 {
		<-out
		emitted++
	}
	if emitted < 1 {
		t.Errorf("expected at least one TF candle, got %d", emitted)
	}
}

func TestBuilder_PartialBucketStaysForming(t *testing.T) {
	b := New([]int{60})
	b.StaleTolerance = 0
	out := make(chan model.TFCandle, 5000)

	base := alignDown(1712000000, 60)

	// Half a bucket — nothing should seal.
	for i := int64(0); i < 30; i++ {
		b.Run1(tick("XRPUSDT", base+i, 100, 110, 90, 105, 1), out)
	}
	if got := sealedOnly(out); len(got) != 0 {
		t.Fatalf("sealed candle from a partial bucket: %+v", got[0])
	}
}

func TestBuilder_UpdateTFs_SealsRemoved(t *testing.T) {
	b := New([]int{60, 300})
	b.StaleTolerance = 0
	out := make(chan model.TFCandle, 5000)

	base := alignDown(1712000000, 300)
	for i := int64(0); i < 5; i++ {
		b.Run1(tick("BTCUSDT", base+i, 100, 110, 90, 105, 1), out)
	}
	for len(out) > 0 {
		<-out
	}

	// Dropping 60s must seal its forming candle; 300s keeps its state.
	b.UpdateTFs([]int{300}, out)

	sealed := sealedOnly(out)
	if len(sealed) != 1 {
		t.Fatalf("sealed candles after UpdateTFs: want 1, got %d", len(sealed))
	}
	if sealed[0].TF != 60 {
		t.Errorf("sealed TF: want 60, got %d", sealed[0].TF)
	}
	if sealed[0].Count != 5 {
		t.Errorf("sealed count: want 5, got %d", sealed[0].Count)
	}
	if got := b.TFs(); len(got) != 1 || got[0] != 300 {
		t.Errorf("active TFs: want [300], got %v", got)
	}

	// The surviving 5m state merges the next tick instead of reopening.
	b.Run1(tick("BTCUSDT", base+5, 100, 110, 90, 105, 1), out)
	var last model.TFCandle
	for len(out) > 0 {
		last = <-out
	}
	if last.Count != 6 {
		t.Errorf("5m forming count after update: want 6, got %d", last.Count)
	}
}

func TestBuilder_StaleTickRejected(t *testing.T) {
	b := New([]int{60}) // default 2s tolerance
	out := make(chan model.TFCandle, 100)

	stale := 0
	b.OnStaleCandle = func() { stale++ }

	base := alignDown(1712000000, 60)

	// Forming bucket starts at base+60; a tick from the previous bucket
	// is a full minute behind and must be dropped.
	b.Run1(tick("BTCUSDT", base+65, 100, 110, 90, 105, 1), out)
	b.Run1(tick("BTCUSDT", base+2, 50, 55, 45, 52, 1), out)

	if stale != 1 {
		t.Errorf("stale hook fires: want 1, got %d", stale)
	}
	emitted := 0
	for len(out) > 0 {
		c := <-out
		emitted++
		if c.Count != 1 || c.Low != 90 {
			t.Errorf("stale tick leaked into forming candle: %+v", c)
		}
	}
	if emitted != 1 {
		t.Errorf("emitted candles: want 1, got %d", emitted)
	}
}
