package indicator

import (
	"fmt"

	"crypto-systemv1/internal/model"
)

// SMA is a simple moving average over the last period closes. The ring
// is allocated once up front; steady-state updates do not allocate.
type SMA struct {
	period int
	ring   []float64
	head   int // next write slot
	seen   int // closes absorbed so far
	sum    float64
	avg    float64
}

// NewSMA builds an SMA of the given period.
func NewSMA(period int) (*SMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: SMA period=%d", ErrInvalidPeriod, period)
	}
	return &SMA{
		period: period,
		ring:   make([]float64, period),
	}, nil
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(candle model.Candle) {
	price := candle.Close

	if s.seen >= s.period {
		// The slot about to be overwritten leaves the window.
		s.sum -= s.ring[s.head]
	}
	s.ring[s.head] = price
	s.head = (s.head + 1) % s.period
	s.sum += price
	s.seen++

	if s.seen >= s.period {
		s.avg = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.avg }
func (s *SMA) Ready() bool    { return s.seen >= s.period }

// Peek answers what Value() would report after one more candle, without
// touching state. During warmup it averages what exists plus the probe.
func (s *SMA) Peek(candle model.Candle) float64 {
	price := candle.Close
	if s.seen < s.period {
		return (s.sum + price) / float64(s.seen+1)
	}
	// The probe displaces the oldest close, which sits at head.
	return (s.sum - s.ring[s.head] + price) / float64(s.period)
}

// Reset clears all state for reuse.
func (s *SMA) Reset() {
	s.head = 0
	s.seen = 0
	s.sum = 0
	s.avg = 0
	for i := range s.ring {
		s.ring[i] = 0
	}
}

// Snapshot serializes the state for checkpoint persistence.
func (s *SMA) Snapshot() IndicatorSnapshot {
	ring := make([]float64, len(s.ring))
	copy(ring, s.ring)
	return IndicatorSnapshot{
		Type:    "SMA",
		Period:  s.period,
		Buf:     ring,
		Idx:     s.head,
		Count:   s.seen,
		Sum:     s.sum,
		Current: s.avg,
	}
}

// RestoreFromSnapshot loads checkpointed state back in.
func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	s.period = snap.Period
	s.head = snap.Idx
	s.seen = snap.Count
	s.sum = snap.Sum
	s.avg = snap.Current
	if len(snap.Buf) > 0 {
		s.ring = make([]float64, len(snap.Buf))
		copy(s.ring, snap.Buf)
	} else {
		s.ring = make([]float64, snap.Period)
	}
	return nil
}
