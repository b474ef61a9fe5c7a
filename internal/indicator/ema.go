package indicator

import (
	"fmt"

	"crypto-systemv1/internal/model"
)

// EMA is an exponential moving average. State is a single running value,
// so updates are O(1) with no window storage. The first period closes
// build a plain-mean seed; before the seed lands Value() reports 0.
type EMA struct {
	period  int
	alpha   float64
	val     float64
	n       int
	warmSum float64
}

// NewEMA builds an EMA of the given period.
func NewEMA(period int) (*EMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: EMA period=%d", ErrInvalidPeriod, period)
	}
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}, nil
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(candle model.Candle) {
	price := candle.Close
	e.n++

	switch {
	case e.n < e.period:
		e.warmSum += price
	case e.n == e.period:
		e.warmSum += price
		e.val = e.warmSum / float64(e.period)
	default:
		e.val += e.alpha * (price - e.val)
	}
}

func (e *EMA) Value() float64 { return e.val }
func (e *EMA) Ready() bool    { return e.n >= e.period }

// Peek answers what Value() would report after one more candle, without
// touching state. Before the seed exists the probe price is the best
// available estimate.
func (e *EMA) Peek(candle model.Candle) float64 {
	price := candle.Close
	if e.n < e.period {
		return price
	}
	return e.val + e.alpha*(price-e.val)
}

// Reset clears all state for reuse.
func (e *EMA) Reset() {
	e.val = 0
	e.n = 0
	e.warmSum = 0
}

// Snapshot serializes the state for checkpoint persistence.
func (e *EMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:       "EMA",
		Period:     e.period,
		Multiplier: e.alpha,
		Current:    e.val,
		Count:      e.n,
		Sum:        e.warmSum,
	}
}

// RestoreFromSnapshot loads checkpointed state back in.
func (e *EMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	e.period = snap.Period
	e.alpha = snap.Multiplier
	e.val = snap.Current
	e.n = snap.Count
	e.warmSum = snap.Sum
	return nil
}
