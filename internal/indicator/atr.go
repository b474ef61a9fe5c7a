package indicator

import (
	"fmt"
	"math"

	"crypto-systemv1/internal/model"
)

// ATR calculates Average True Range with Wilder's smoothing.
// The first candle has no previous close, so its true range is high-low;
// afterwards TR = max(high-low, |high-prevClose|, |low-prevClose|).
// During warm-up Value() reports the running mean of the TRs seen so far;
// once `period` TRs have landed it switches to Wilder smoothing.
// ATR is never negative.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64 // warm-up TR accumulator
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) (*ATR, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: ATR period=%d", ErrInvalidPeriod, period)
	}
	return &ATR{period: period}, nil
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(candle model.Candle) {
	tr := a.trueRange(candle.High, candle.Low)
	a.prevClose = candle.Close
	a.count++

	if a.count <= a.period {
		// Warm-up: running simple mean of TRs so far
		a.sum += tr
		a.current = a.sum / float64(a.count)
		return
	}

	// Wilder's smoothing: ATR = (prevATR * (period-1) + TR) / period
	a.current = (a.current*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }

// Peek computes what Value() would be with an additional candle without mutating state.
func (a *ATR) Peek(candle model.Candle) float64 {
	tr := a.trueRange(candle.High, candle.Low)
	if a.count < a.period {
		return (a.sum + tr) / float64(a.count+1)
	}
	return (a.current*float64(a.period-1) + tr) / float64(a.period)
}

// trueRange computes the TR for a high/low pair against the stored previous
// close. Before any candle has been seen there is no previous close, so the
// raw high-low range is used.
func (a *ATR) trueRange(high, low float64) float64 {
	tr := high - low
	if a.count == 0 {
		return tr
	}
	if d := math.Abs(high - a.prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - a.prevClose); d > tr {
		tr = d
	}
	return tr
}

// Snapshot serializes the ATR state for checkpoint persistence.
func (a *ATR) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      "ATR",
		Period:    a.period,
		Count:     a.count,
		PrevClose: a.prevClose,
		Sum:       a.sum,
		Current:   a.current,
	}
}

// RestoreFromSnapshot restores ATR state from a checkpoint.
func (a *ATR) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	a.period = snap.Period
	a.count = snap.Count
	a.prevClose = snap.PrevClose
	a.sum = snap.Sum
	a.current = snap.Current
	return nil
}
