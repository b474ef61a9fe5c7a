package strategy

import (
	"fmt"

	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/model"
)

// EMAThreshold trades price against an EMA band.
//
// Buy when close rises above ema*(1+threshold), sell when it falls below
// ema*(1-threshold), hold inside the band. Signals are edge-triggered: a
// buy fires only on the transition into the upper region, not on every
// candle spent there.
type EMAThreshold struct {
	name      string
	ema       *indicator.EMA
	threshold float64

	lastAction Action
}

// NewEMAThreshold creates an EMA band strategy. threshold is a fraction of
// the EMA (0.005 = 0.5% band).
func NewEMAThreshold(period int, threshold float64) (*EMAThreshold, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("threshold must be >= 0, got %g", threshold)
	}
	ema, err := indicator.NewEMA(period)
	if err != nil {
		return nil, err
	}
	return &EMAThreshold{
		name:       fmt.Sprintf("EMA_Threshold_%d", period),
		ema:        ema,
		threshold:  threshold,
		lastAction: ActionHold,
	}, nil
}

func (s *EMAThreshold) Name() string { return s.name }

// Evaluate is the pure signal function: where does price sit relative to
// the EMA band?
func Evaluate(price, ema, threshold float64) Action {
	switch {
	case price > ema*(1+threshold):
		return ActionBuy
	case price < ema*(1-threshold):
		return ActionSell
	default:
		return ActionHold
	}
}

func (s *EMAThreshold) OnCandle(candle model.TFCandle) *Signal {
	s.ema.Update(candle.Candle())
	if !s.ema.Ready() {
		return nil
	}

	action := Evaluate(candle.Close, s.ema.Value(), s.threshold)
	if action == s.lastAction {
		return nil
	}
	s.lastAction = action
	if action == ActionHold {
		return nil
	}

	return &Signal{
		StrategyName: s.name,
		Action:       action,
		Symbol:       candle.Symbol,
		Exchange:     candle.Exchange,
		Price:        0, // market
		Reason:       fmt.Sprintf("close %.2f vs EMA %.2f band %.2f%%", candle.Close, s.ema.Value(), s.threshold*100),
	}
}
