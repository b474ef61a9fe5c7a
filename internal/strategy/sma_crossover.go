package strategy

import (
	"log"

	"crypto-systemv1/internal/model"
)

// rollingMean is a fixed-window mean over closes.
type rollingMean struct {
	win   []float64
	at    int
	total float64
}

func newRollingMean(period int) rollingMean {
	return rollingMean{win: make([]float64, period)}
}

func (r *rollingMean) size() int { return len(r.win) }

// push replaces the oldest sample and returns the window mean. The mean is
// only meaningful once the window has seen size() samples; callers gate on
// that.
func (r *rollingMean) push(v float64) float64 {
	r.total += v - r.win[r.at]
	r.win[r.at] = v
	r.at = (r.at + 1) % len(r.win)
	return r.total / float64(len(r.win))
}

// SMACrossover trades crosses of two simple moving averages: the fast SMA
// closing above the slow one is a golden cross (buy), closing below is a
// death cross (sell). The optional RSI filter suppresses buys when
// overbought (>70) and sells when oversold (<30).
type SMACrossover struct {
	name string
	fast rollingMean
	slow rollingMean

	count int

	// Previous SMA pair; crosses are edges, so both sides of the edge
	// must have been observed before any signal fires.
	lastFast float64
	lastSlow float64
	primed   bool

	// Wilder-smoothed RSI filter state.
	filterRSI  bool
	rsiPeriod  int
	avgGain    float64
	avgLoss    float64
	lastClose  float64
	rsiSamples int
	lastRSI    float64
}

// NewSMACrossover builds the strategy. fastPeriod must be shorter than
// slowPeriod (e.g. 9 and 21).
func NewSMACrossover(fastPeriod, slowPeriod int, enableRSI bool, rsiPeriod int) *SMACrossover {
	return &SMACrossover{
		name:      "SMA_Crossover",
		fast:      newRollingMean(fastPeriod),
		slow:      newRollingMean(slowPeriod),
		filterRSI: enableRSI,
		rsiPeriod: rsiPeriod,
	}
}

func (s *SMACrossover) Name() string {
	return s.name
}

// emit fills in the market-order signal scaffolding.
func (s *SMACrossover) emit(action Action, candle model.TFCandle, reason string) *Signal {
	return &Signal{
		StrategyName: s.name,
		Action:       action,
		Symbol:       candle.Symbol,
		Exchange:     candle.Exchange,
		Price:        0, // market order
		Reason:       reason,
	}
}

func (s *SMACrossover) OnCandle(candle model.TFCandle) *Signal {
	price := candle.Close
	s.count++

	if s.filterRSI && s.count > 1 {
		s.updateRSI(price)
	}
	s.lastClose = price

	fastNow := s.fast.push(price)
	slowNow := s.slow.push(price)

	// The slow window bounds readiness; the fast one filled earlier.
	if s.count < s.slow.size() {
		return nil
	}

	defer func() {
		s.lastFast = fastNow
		s.lastSlow = slowNow
		s.primed = true
	}()

	if !s.primed {
		return nil
	}

	switch {
	case s.lastFast <= s.lastSlow && fastNow > slowNow:
		if s.filterRSI && s.lastRSI > 70 {
			log.Printf("[strategy] %s: golden cross suppressed, RSI %.1f overbought", s.name, s.lastRSI)
			return nil
		}
		return s.emit(ActionBuy, candle, "SMA golden cross (fast > slow)")

	case s.lastFast >= s.lastSlow && fastNow < slowNow:
		if s.filterRSI && s.lastRSI < 30 {
			log.Printf("[strategy] %s: death cross suppressed, RSI %.1f oversold", s.name, s.lastRSI)
			return nil
		}
		return s.emit(ActionSell, candle, "SMA death cross (fast < slow)")
	}

	return nil
}

// updateRSI maintains a Wilder RSI: simple averages over the first period,
// exponential smoothing with factor (n-1)/n after.
func (s *SMACrossover) updateRSI(price float64) {
	change := price - s.lastClose
	s.rsiSamples++

	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	n := float64(s.rsiPeriod)
	switch {
	case s.rsiSamples < s.rsiPeriod:
		s.avgGain += gain
		s.avgLoss += loss
	case s.rsiSamples == s.rsiPeriod:
		s.avgGain = (s.avgGain + gain) / n
		s.avgLoss = (s.avgLoss + loss) / n
	default:
		s.avgGain = (s.avgGain*(n-1) + gain) / n
		s.avgLoss = (s.avgLoss*(n-1) + loss) / n
	}

	if s.avgLoss == 0 {
		s.lastRSI = 100
		return
	}
	rs := s.avgGain / s.avgLoss
	s.lastRSI = 100 - (100 / (1 + rs))
}
