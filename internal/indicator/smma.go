package indicator

import (
	"fmt"

	"crypto-systemv1/internal/model"
)

// SMMA is a Wilder-style smoothed moving average. It seeds with
// SMA(period) and then folds each close in with weight 1/period.
type SMMA struct {
	period  int
	n       int
	warmSum float64
	val     float64
}

// NewSMMA builds an SMMA of the given period.
func NewSMMA(period int) (*SMMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: SMMA period=%d", ErrInvalidPeriod, period)
	}
	return &SMMA{period: period}, nil
}

func (s *SMMA) Name() string { return "SMMA" }

func (s *SMMA) Update(candle model.Candle) {
	price := candle.Close
	s.n++

	switch {
	case s.n < s.period:
		s.warmSum += price
	case s.n == s.period:
		s.warmSum += price
		s.val = s.warmSum / float64(s.period)
	default:
		s.val = (s.val*float64(s.period-1) + price) / float64(s.period)
	}
}

func (s *SMMA) Value() float64 { return s.val }
func (s *SMMA) Ready() bool    { return s.n >= s.period }

// Peek answers what Value() would report after one more candle, without
// touching state. During warmup it averages what exists plus the probe.
func (s *SMMA) Peek(candle model.Candle) float64 {
	price := candle.Close
	if s.n < s.period {
		return (s.warmSum + price) / float64(s.n+1)
	}
	return (s.val*float64(s.period-1) + price) / float64(s.period)
}

// Reset clears all state for reuse.
func (s *SMMA) Reset() {
	s.n = 0
	s.warmSum = 0
	s.val = 0
}

// Snapshot serializes the state for checkpoint persistence.
func (s *SMMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "SMMA",
		Period:  s.period,
		Count:   s.n,
		Sum:     s.warmSum,
		Current: s.val,
	}
}

// RestoreFromSnapshot loads checkpointed state back in.
func (s *SMMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	s.period = snap.Period
	s.n = snap.Count
	s.warmSum = snap.Sum
	s.val = snap.Current
	return nil
}
