package bus

import (
	"context"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
)

// recv pulls one candle off ch or fails the test after a second.
func recv(t *testing.T, ch <-chan model.Candle, sub int) model.Candle {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatalf("subscriber %d: timed out waiting for candle", sub)
		return model.Candle{}
	}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	outs := []<-chan model.Candle{fo.Subscribe(), fo.Subscribe()}

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Candle{Symbol: "BTCUSDT", Exchange: "BINANCE", Open: 100, High: 110, Low: 90, Close: 105}

	for i, out := range outs {
		if c := recv(t, out, i); c.Symbol != "BTCUSDT" {
			t.Errorf("subscriber %d: want BTCUSDT, got %s", i, c.Symbol)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1) // single-slot buffers
	slow := fo.Subscribe()
	_ = slow // never read — forces a drop on the second candle

	drops := make(chan int, 10)
	fo.OnDrop = func(idx int) { drops <- idx }

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Candle{Symbol: "BTCUSDT", Exchange: "BINANCE", Close: 1}
	input <- model.Candle{Symbol: "BTCUSDT", Exchange: "BINANCE", Close: 2}

	select {
	case idx := <-drops:
		if idx != 0 {
			t.Errorf("expected drop on subscriber 0, got %d", idx)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New(4)
	fo.Subscribe()
	fo.Subscribe()

	stats := fo.ChannelStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(stats))
	}
	for i, s := range stats {
		if s.Cap != 4 {
			t.Errorf("stat %d: expected cap 4, got %d", i, s.Cap)
		}
		if s.Len != 0 {
			t.Errorf("stat %d: expected empty, got len %d", i, s.Len)
		}
	}
}
