package ringbuf

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
)

func TestRing_FIFO(t *testing.T) {
	r := New(8)

	in := []model.Tick{
		{Symbol: "BTCUSDT", Price: 64000},
		{Symbol: "ETHUSDT", Price: 3100},
		{Symbol: "SOLUSDT", Price: 150},
	}
	for i, tk := range in {
		if !r.Push(tk) {
			t.Fatalf("push %d rejected with room to spare", i)
		}
	}
	if r.Len() != len(in) {
		t.Fatalf("Len=%d, want %d", r.Len(), len(in))
	}

	for i, want := range in {
		got, ok := r.Pop()
		if !ok || got.Symbol != want.Symbol {
			t.Fatalf("pop %d: got %q ok=%v, want %q", i, got.Symbol, ok, want.Symbol)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop on an empty ring must report false")
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d after drain, want 0", r.Len())
	}
}

func TestRing_OverflowAndRecovery(t *testing.T) {
	r := New(2)

	r.Push(model.Tick{Price: 1})
	r.Push(model.Tick{Price: 2})
	if r.Push(model.Tick{Price: 3}) {
		t.Fatal("push into a full ring must fail")
	}
	if r.Overflow() != 1 {
		t.Fatalf("Overflow=%d, want 1", r.Overflow())
	}

	// Draining one slot makes room again; the dropped tick stays dropped.
	if tk, ok := r.Pop(); !ok || tk.Price != 1 {
		t.Fatalf("pop got %v ok=%v, want 1", tk.Price, ok)
	}
	if !r.Push(model.Tick{Price: 4}) {
		t.Fatal("push after drain must succeed")
	}
	if r.Overflow() != 1 {
		t.Fatalf("Overflow=%d after recovery, want still 1", r.Overflow())
	}
	if tk, _ := r.Pop(); tk.Price != 2 {
		t.Fatalf("expected 2 next, got %v", tk.Price)
	}
	if tk, _ := r.Pop(); tk.Price != 4 {
		t.Fatalf("expected 4 last, got %v", tk.Price)
	}
}

func TestRing_WrapAround(t *testing.T) {
	r := New(4)

	// Uneven push/pop bursts walk the cursors across the wrap point
	// repeatedly; ordering must hold the whole way.
	var pushed, popped int
	for step := 0; step < 12; step++ {
		for i := 0; i < 3 && r.Push(model.Tick{Price: float64(pushed)}); i++ {
			pushed++
		}
		for i := 0; i < 2; i++ {
			tk, ok := r.Pop()
			if !ok {
				break
			}
			if tk.Price != float64(popped) {
				t.Fatalf("step %d: got %.0f, want %d", step, tk.Price, popped)
			}
			popped++
		}
	}
	for {
		tk, ok := r.Pop()
		if !ok {
			break
		}
		if tk.Price != float64(popped) {
			t.Fatalf("drain: got %.0f, want %d", tk.Price, popped)
		}
		popped++
	}
	if popped != pushed {
		t.Fatalf("popped %d of %d pushed", popped, pushed)
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const total = 100_000
	r := New(1024)

	errCh := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		for i := 0; i < total; i++ {
			for !r.Push(model.Tick{Price: float64(i)}) {
				runtime.Gosched()
			}
		}
	}()

	// The consumer validates ordering as it drains instead of buffering
	// everything for a post-hoc check.
	go func() {
		defer close(done)
		next := 0
		for next < total {
			tk, ok := r.Pop()
			if !ok {
				runtime.Gosched()
				continue
			}
			if tk.Price != float64(next) {
				select {
				case errCh <- fmt.Errorf("at %d: got %.0f", next, tk.Price):
				default:
				}
				return
			}
			next++
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("producer/consumer stalled")
	}
	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}
}

func TestRing_CapacityRounding(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{-1, 2}, {0, 2}, {1, 2}, {2, 2}, {3, 4}, {6, 8}, {1000, 1024}, {1024, 1024},
	} {
		if got := New(tc.in).Cap(); got != tc.want {
			t.Errorf("New(%d).Cap() = %d, want %d", tc.in, got, tc.want)
		}
	}
}
