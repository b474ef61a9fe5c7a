package redis

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// trip drives n failing calls through the breaker.
func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errBoom })
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("initial state: want closed, got %v", got)
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	// Underlying errors surface while the breaker is still counting.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); err != errBoom {
			t.Fatalf("call %d: want errBoom, got %v", i, err)
		}
	}
	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("after 3 failures: want open, got %v", got)
	}

	// Tripped breaker rejects without running the call.
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("want ErrCircuitOpen, got %v", err)
	}
	if ran {
		t.Error("call ran while the breaker was open")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	trip(cb, 2)
	if cb.CurrentState() != StateOpen {
		t.Fatal("breaker did not trip")
	}

	time.Sleep(60 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: want nil, got %v", err)
	}
	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("after successful probe: want closed, got %v", got)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	trip(cb, 2)

	time.Sleep(60 * time.Millisecond)
	trip(cb, 1) // the probe fails

	if got := cb.CurrentState(); got != StateOpen {
		t.Errorf("after failed probe: want open, got %v", got)
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	// Two failures, a success, two more failures: the success must have
	// cleared the consecutive count, so the breaker stays closed.
	trip(cb, 2)
	cb.Execute(func() error { return nil })
	trip(cb, 2)

	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("want closed (count reset by success), got %v", got)
	}
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	trip(cb, 1)

	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// While the probe is in flight, other callers stay rejected.
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen during probe, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after probe, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_NotifiesStateChanges(t *testing.T) {
	cb := NewCircuitBreaker(1, 50*time.Millisecond)

	var seen []string
	cb.OnStateChange = func(from, to State) {
		seen = append(seen, from.String()+"->"+to.String())
	}

	trip(cb, 1)
	time.Sleep(60 * time.Millisecond)
	cb.Execute(func() error { return nil })

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions: want %v, got %v", want, seen)
	}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("transition %d: want %s, got %s", i, w, seen[i])
		}
	}
}
