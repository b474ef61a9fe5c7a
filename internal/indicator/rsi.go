package indicator

import (
	"fmt"

	"crypto-systemv1/internal/model"
)

// splitDelta separates a close-to-close change into gain and loss magnitudes.
func splitDelta(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiFrom maps smoothed averages onto the 0..100 RSI scale. A zero average
// loss pins the index at 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// wilder folds one move into a running average with weight 1/period.
func wilder(avg, move float64, period int) float64 {
	p := float64(period)
	return (avg*(p-1) + move) / p
}

// RSI is Wilder's Relative Strength Index, updated in O(1) per candle.
// The first candle only records a reference close; the next period candles
// accumulate raw gains and losses, which become the SMA-seeded averages
// when the first RSI value lands at candle period+1. Value() is 0 until
// then.
type RSI struct {
	period    int
	n         int
	lastClose float64
	upAvg     float64
	downAvg   float64
	val       float64
}

// NewRSI builds an RSI with the given period (typically 14).
func NewRSI(period int) (*RSI, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: RSI period=%d", ErrInvalidPeriod, period)
	}
	return &RSI{period: period}, nil
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(candle model.Candle) {
	close := candle.Close
	if r.n == 0 {
		r.n = 1
		r.lastClose = close
		return
	}

	gain, loss := splitDelta(close - r.lastClose)
	r.lastClose = close
	r.n++

	switch {
	case r.n <= r.period:
		r.upAvg += gain
		r.downAvg += loss
	case r.n == r.period+1:
		// Seed completes here: the summed moves become the averages.
		r.upAvg = (r.upAvg + gain) / float64(r.period)
		r.downAvg = (r.downAvg + loss) / float64(r.period)
		r.val = rsiFrom(r.upAvg, r.downAvg)
	default:
		r.upAvg = wilder(r.upAvg, gain, r.period)
		r.downAvg = wilder(r.downAvg, loss, r.period)
		r.val = rsiFrom(r.upAvg, r.downAvg)
	}
}

func (r *RSI) Value() float64 { return r.val }
func (r *RSI) Ready() bool    { return r.n > r.period }

// Peek returns the RSI a further candle would produce, without mutating
// state.
func (r *RSI) Peek(candle model.Candle) float64 {
	if r.n <= r.period {
		return r.val
	}
	gain, loss := splitDelta(candle.Close - r.lastClose)
	return rsiFrom(wilder(r.upAvg, gain, r.period), wilder(r.downAvg, loss, r.period))
}

// Snapshot serializes the state for checkpoint persistence.
func (r *RSI) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      "RSI",
		Period:    r.period,
		Count:     r.n,
		PrevClose: r.lastClose,
		AvgGain:   r.upAvg,
		AvgLoss:   r.downAvg,
		Current:   r.val,
	}
}

// RestoreFromSnapshot loads checkpointed state back in.
func (r *RSI) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	r.period = snap.Period
	r.n = snap.Count
	r.lastClose = snap.PrevClose
	r.upAvg = snap.AvgGain
	r.downAvg = snap.AvgLoss
	r.val = snap.Current
	return nil
}
