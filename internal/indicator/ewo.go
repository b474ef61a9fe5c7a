package indicator

import (
	"fmt"

	"crypto-systemv1/internal/model"
)

// EWO calculates the Elliott Wave Oscillator: the spread between a fast and
// a slow EMA over the same close series. Positive values indicate the fast
// average riding above the slow one (upward impulse), negative the reverse.
// Readiness follows the slow EMA — the fast one is ready strictly earlier.
type EWO struct {
	fastPeriod int
	slowPeriod int
	fast       *EMA
	slow       *EMA
}

// NewEWO creates a new EWO indicator over EMA(fast) and EMA(slow).
// fast must be strictly less than slow (typically 5 and 35).
func NewEWO(fast, slow int) (*EWO, error) {
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("%w: EWO fast=%d slow=%d", ErrInvalidPeriod, fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: EWO fast=%d slow=%d", ErrInvalidPair, fast, slow)
	}
	f, err := NewEMA(fast)
	if err != nil {
		return nil, err
	}
	s, err := NewEMA(slow)
	if err != nil {
		return nil, err
	}
	return &EWO{fastPeriod: fast, slowPeriod: slow, fast: f, slow: s}, nil
}

func (e *EWO) Name() string { return "EWO" }

func (e *EWO) Update(candle model.Candle) {
	e.fast.Update(candle)
	e.slow.Update(candle)
}

func (e *EWO) Value() float64 { return e.fast.Value() - e.slow.Value() }
func (e *EWO) Ready() bool    { return e.slow.Ready() }

// Peek computes what Value() would be with an additional candle without mutating state.
func (e *EWO) Peek(candle model.Candle) float64 {
	return e.fast.Peek(candle) - e.slow.Peek(candle)
}

// Snapshot serializes the EWO state for checkpoint persistence.
// The two EMA legs are stored as nested sub-snapshots.
func (e *EWO) Snapshot() IndicatorSnapshot {
	fastSnap := e.fast.Snapshot()
	slowSnap := e.slow.Snapshot()
	return IndicatorSnapshot{
		Type:    "EWO",
		Period:  e.fastPeriod,
		Period2: e.slowPeriod,
		Fast:    &fastSnap,
		Slow:    &slowSnap,
	}
}

// RestoreFromSnapshot restores EWO state from a checkpoint.
func (e *EWO) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Fast == nil || snap.Slow == nil {
		return fmt.Errorf("EWO snapshot missing fast/slow sub-snapshots")
	}
	e.fastPeriod = snap.Period
	e.slowPeriod = snap.Period2
	if err := e.fast.RestoreFromSnapshot(*snap.Fast); err != nil {
		return err
	}
	return e.slow.RestoreFromSnapshot(*snap.Slow)
}
