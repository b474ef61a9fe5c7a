package gateway

import (
	"fmt"
	"testing"
)

func TestReplayBuffer_RangeFilters(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte(fmt.Sprintf("env-%d", i)))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5 entries, got %d", len(got))
	}
	for i, e := range got {
		if want := int64(i) + 3; e.Seq != want {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, want)
		}
		if string(e.Data) != fmt.Sprintf("env-%d", e.Seq) {
			t.Errorf("entry[%d] payload %q does not match seq %d", i, e.Data, e.Seq)
		}
	}
}

func TestReplayBuffer_EvictsOldest(t *testing.T) {
	rb := NewReplayBuffer(5)

	// 8 pushes through 5 slots leaves seqs 4..8 behind.
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("env"))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 {
		t.Fatalf("Range(1,10): expected 5 entries, got %d", len(got))
	}
	if got[0].Seq != 4 || got[4].Seq != 8 {
		t.Errorf("window = [%d..%d], want [4..8]", got[0].Seq, got[4].Seq)
	}
}

func TestReplayBuffer_EmptyRange(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.Range(1, 100); len(got) != 0 {
		t.Fatalf("empty buffer Range should return nothing, got %d entries", len(got))
	}
}

func TestReplayBuffer_CopiesPayload(t *testing.T) {
	rb := NewReplayBuffer(10)
	payload := []byte("original")
	rb.Push(1, payload)
	payload[0] = 'X'

	got := rb.Range(1, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if string(got[0].Data) != "original" {
		t.Errorf("buffer shares caller's slice: got %q", got[0].Data)
	}
}
