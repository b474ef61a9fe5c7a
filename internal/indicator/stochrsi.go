package indicator

import (
	"fmt"

	"crypto-systemv1/internal/model"
)

// StochRSI calculates the Stochastic RSI: the position of the current RSI
// within its min/max range over a rolling window of RSI values.
//
//	stochRSI = (rsi - min) / (max - min)
//
// Every update pushes the RSI output into the window before the range is
// taken, so the current RSI is always inside [min, max] and the output is
// always within [0, 1]. A flat window (max == min) yields exactly 0.
// Ready once the underlying RSI is ready AND the window is full.
type StochRSI struct {
	rsiPeriod   int
	stochPeriod int
	rsi         *RSI
	win         *window
	current     float64
}

// NewStochRSI creates a new StochRSI over RSI(rsiPeriod) with a rolling
// window of stochPeriod RSI values. Pass stochPeriod = 0 to reuse rsiPeriod.
func NewStochRSI(rsiPeriod, stochPeriod int) (*StochRSI, error) {
	if stochPeriod == 0 {
		stochPeriod = rsiPeriod
	}
	if rsiPeriod < 1 || stochPeriod < 1 {
		return nil, fmt.Errorf("%w: STOCHRSI rsi=%d stoch=%d", ErrInvalidPeriod, rsiPeriod, stochPeriod)
	}
	r, err := NewRSI(rsiPeriod)
	if err != nil {
		return nil, err
	}
	return &StochRSI{
		rsiPeriod:   rsiPeriod,
		stochPeriod: stochPeriod,
		rsi:         r,
		win:         newWindow(stochPeriod),
	}, nil
}

func (s *StochRSI) Name() string { return "STOCHRSI" }

func (s *StochRSI) Update(candle model.Candle) {
	s.rsi.Update(candle)
	rv := s.rsi.Value()
	s.win.Push(rv)

	lo, hi := s.win.MinMax()
	if hi == lo {
		s.current = 0 // degenerate flat range
		return
	}
	s.current = (rv - lo) / (hi - lo)
}

func (s *StochRSI) Value() float64 { return s.current }
func (s *StochRSI) Ready() bool    { return s.rsi.Ready() && s.win.Full() }

// Peek computes what Value() would be with an additional candle without mutating state.
func (s *StochRSI) Peek(candle model.Candle) float64 {
	rv := s.rsi.Peek(candle)
	lo, hi := s.win.MinMaxWith(rv)
	if hi == lo {
		return 0
	}
	return (rv - lo) / (hi - lo)
}

// Snapshot serializes the StochRSI state for checkpoint persistence.
// The inner RSI is stored as a nested sub-snapshot; the window rides in the
// shared Buf/Idx/Count fields.
func (s *StochRSI) Snapshot() IndicatorSnapshot {
	rsiSnap := s.rsi.Snapshot()
	return IndicatorSnapshot{
		Type:    "STOCHRSI",
		Period:  s.rsiPeriod,
		Period2: s.stochPeriod,
		RSI:     &rsiSnap,
		Buf:     s.win.Values(),
		Idx:     s.win.idx,
		Count:   s.win.count,
		Current: s.current,
	}
}

// RestoreFromSnapshot restores StochRSI state from a checkpoint.
func (s *StochRSI) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.RSI == nil {
		return fmt.Errorf("STOCHRSI snapshot missing rsi sub-snapshot")
	}
	s.rsiPeriod = snap.Period
	s.stochPeriod = snap.Period2
	if err := s.rsi.RestoreFromSnapshot(*snap.RSI); err != nil {
		return err
	}
	s.win.restore(snap.Buf, snap.Idx, snap.Count)
	s.current = snap.Current
	return nil
}
