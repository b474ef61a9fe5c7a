package gateway

// TFInfo is the REST response type for /api/tfs.
type TFInfo struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

// CandleOut is the REST response type for /api/candles.
type CandleOut struct {
	TS       string  `json:"ts"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Count    float64 `json:"count"`
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	TF       int     `json:"tf"`
	Forming  bool    `json:"forming"`
}

// IndPoint is the REST response type for /api/indicators/history.
type IndPoint struct {
	Value float64 `json:"value"`
	TS    string  `json:"ts"`
	Ready bool    `json:"ready"`
}

// HeikinAshi converts plain OHLC candles into Heikin-Ashi bars.
// The first bar seeds haOpen with (open+close)/2; each subsequent bar
// chains from the previous HA bar.
func HeikinAshi(candles []CandleOut) []CandleOut {
	if len(candles) == 0 {
		return candles
	}
	out := make([]CandleOut, len(candles))
	for i, c := range candles {
		ha := c
		ha.Close = (c.Open + c.High + c.Low + c.Close) / 4
		if i == 0 {
			ha.Open = (c.Open + c.Close) / 2
		} else {
			ha.Open = (out[i-1].Open + out[i-1].Close) / 2
		}
		ha.High = max3(c.High, ha.Open, ha.Close)
		ha.Low = min3(c.Low, ha.Open, ha.Close)
		out[i] = ha
	}
	return out
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
