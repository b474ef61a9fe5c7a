package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ── Wire messages ──

// SubscribeMsg attaches a connection to one (symbol, tf) chart and asks
// for history plus a live feed of the listed indicators.
type SubscribeMsg struct {
	Type       string          `json:"type"`       // always "SUBSCRIBE"
	ReqID      string          `json:"reqId"`      // echoed on the snapshot and on errors
	Symbol     string          `json:"symbol"`     // market key, "BINANCE:BTCUSDT"
	TF         int             `json:"tf"`         // bar size in seconds
	History    HistoryRequest  `json:"history"`    // snapshot depth
	Indicators []IndicatorSpec `json:"indicators"` // requested overlays and oscillators
}

// HistoryRequest caps how far back the snapshot reaches.
type HistoryRequest struct {
	Candles int `json:"candles"`
}

// IndicatorSpec describes one requested indicator.
type IndicatorSpec struct {
	ID     string         `json:"id"`           // lowercase type: "sma", "rsi", "ewo", ...
	Source string         `json:"source"`       // input series: "close", "high", "low"
	Params map[string]int `json:"params"`       // lengths, e.g. {"length": 5, "length2": 35}
	TF     int            `json:"tf,omitempty"` // compute on this TF instead of the chart's
}

// UnsubscribeMsg detaches a connection from one (symbol, tf) chart.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // always "UNSUBSCRIBE"
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
}

// SnapshotResponse answers a SUBSCRIBE with chart history.
type SnapshotResponse struct {
	Type       string                        `json:"type"` // always "SNAPSHOT"
	ReqID      string                        `json:"reqId"`
	Symbol     string                        `json:"symbol"`
	TF         int                           `json:"tf"`
	Candles    []SnapshotCandle              `json:"candles"`
	Indicators map[string][]SnapshotIndPoint `json:"indicators"`
}

// SnapshotCandle is a single historical bar.
type SnapshotCandle struct {
	TS     string  `json:"ts"` // RFC3339 bar-open time
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Count  float64 `json:"count"`
}

// SnapshotIndPoint is a single historical indicator sample.
type SnapshotIndPoint struct {
	TS    string  `json:"ts"`
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// LiveUpdate pushes a freshly closed bar and its indicator readings.
type LiveUpdate struct {
	Type       string                   `json:"type"` // always "LIVE"
	Symbol     string                   `json:"symbol"`
	TF         int                      `json:"tf"`
	Candle     *SnapshotCandle          `json:"candle,omitempty"`
	Indicators map[string]*LiveIndValue `json:"indicators,omitempty"`
}

// LiveIndValue is one live indicator reading.
type LiveIndValue struct {
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
	Live  bool    `json:"live,omitempty"`
}

// ErrorResponse reports a failed request back to the client.
type ErrorResponse struct {
	Type  string `json:"type"` // always "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// ── Subscription state ──

// IndEntry is a resolved indicator identity. A name alone does not
// identify a computation: SMA_20 on 1m and SMA_20 on 5m coexist.
type IndEntry struct {
	Name string
	TF   int
}

// Key returns the composite identity "NAME:TF".
func (e IndEntry) Key() string {
	return e.Name + ":" + strconv.Itoa(e.TF)
}

// ClientSubscription carries the per-(market, tf) state the gateway
// tracks for a connection.
type ClientSubscription struct {
	Symbol     string
	TF         int
	Indicators []IndicatorSpec
	IndEntries []IndEntry
}

// SubKey returns the map key for this subscription.
func (s *ClientSubscription) SubKey() string {
	return s.Symbol + ":" + strconv.Itoa(s.TF)
}

// ── Spec resolution ──

// specIdent joins an indicator's type and lengths with sep. Engine
// names use underscores ("EWO_5_35"), the reload grammar uses colons
// ("EWO:5:35"). A missing length defaults to 14.
func specIdent(spec IndicatorSpec, sep string) string {
	period, ok := spec.Params["length"]
	if !ok {
		period = 14
	}
	ident := strings.ToUpper(spec.ID) + sep + strconv.Itoa(period)
	if second, ok := spec.Params["length2"]; ok && second > 0 {
		ident += sep + strconv.Itoa(second)
	}
	return ident
}

// IndicatorSpecToName renders a spec as the engine's indicator name,
// {id:"smma", params:{length:21}} → "SMMA_21".
func IndicatorSpecToName(spec IndicatorSpec) string {
	return specIdent(spec, "_")
}

// IndicatorSpecToConfig renders a spec in the engine's reload grammar,
// "TYPE:PERIOD" or "TYPE:PERIOD:PERIOD2".
func IndicatorSpecToConfig(spec IndicatorSpec) string {
	return specIdent(spec, ":")
}

// ResolveIndicatorNames maps every spec through IndicatorSpecToName.
func ResolveIndicatorNames(specs []IndicatorSpec) []string {
	out := make([]string, 0, len(specs))
	for _, spec := range specs {
		out = append(out, IndicatorSpecToName(spec))
	}
	return out
}

// ResolveIndEntries resolves specs to (name, tf) identities. An
// indicator runs on the subscription TF unless its spec overrides it.
func ResolveIndEntries(specs []IndicatorSpec, defaultTF int) []IndEntry {
	out := make([]IndEntry, 0, len(specs))
	for _, spec := range specs {
		entry := IndEntry{Name: IndicatorSpecToName(spec), TF: defaultTF}
		if spec.TF > 0 {
			entry.TF = spec.TF
		}
		out = append(out, entry)
	}
	return out
}

// oscillatorPrefixes name the indicator families that plot on their own
// axis rather than on the price scale.
var oscillatorPrefixes = []string{"RSI", "EWO", "STOCHRSI", "ATR"}

// isPriceOverlay reports whether an indicator draws on the price axis.
// Only price overlays are checked against the candle price band.
func isPriceOverlay(name string) bool {
	for _, prefix := range oscillatorPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// chronological flips an XREVRANGE result in place so it reads oldest-first.
func chronological(msgs []goredis.XMessage) {
	for a, b := 0, len(msgs)-1; a < b; a, b = a+1, b-1 {
		msgs[a], msgs[b] = msgs[b], msgs[a]
	}
}

// ── Snapshot assembly ──

// chartBounds is the region a snapshot's candles occupy: their padded
// price band and their time window. Indicator samples falling outside
// are warmup noise the chart must never plot.
type chartBounds struct {
	lo, hi   float64
	from, to time.Time
}

// boundsFor pads the candle price range by 10% on each side and widens
// the time window by one bar at both ends.
func boundsFor(candles []SnapshotCandle, tf int) chartBounds {
	var b chartBounds
	if len(candles) == 0 {
		return b
	}
	b.lo, b.hi = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < b.lo {
			b.lo = c.Low
		}
		if c.High > b.hi {
			b.hi = c.High
		}
	}
	pad := (b.hi - b.lo) * 0.10
	b.lo -= pad
	b.hi += pad

	step := time.Duration(tf) * time.Second
	if t, err := time.Parse(time.RFC3339, candles[0].TS); err == nil {
		b.from = t.Add(-step)
	}
	if t, err := time.Parse(time.RFC3339, candles[len(candles)-1].TS); err == nil {
		b.to = t.Add(step)
	}
	return b
}

// admitsValue rejects price-overlay samples outside the padded band.
// Oscillators always pass.
func (b chartBounds) admitsValue(name string, v float64) bool {
	if b.hi <= 0 || !isPriceOverlay(name) {
		return true
	}
	return v >= b.lo && v <= b.hi
}

// admitsTime rejects samples outside the snapshot's time window.
// Unparseable timestamps pass through untouched.
func (b chartBounds) admitsTime(ts string) bool {
	if b.from.IsZero() || b.to.IsZero() {
		return true
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return true
	}
	return !t.Before(b.from) && !t.After(b.to)
}

// streamTail reads the newest limit entries of a stream, oldest-first.
func streamTail(ctx context.Context, rdb *goredis.Client, stream string, limit int) ([]goredis.XMessage, error) {
	msgs, err := rdb.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	chronological(msgs)
	return msgs, nil
}

// msgData pulls the JSON payload out of a stream entry.
func msgData(msg goredis.XMessage) (string, bool) {
	raw, ok := msg.Values["data"].(string)
	return raw, ok
}

// decodeCandles unmarshals stream entries into bars, dropping anything
// malformed or missing a timestamp.
func decodeCandles(msgs []goredis.XMessage) []SnapshotCandle {
	bars := make([]SnapshotCandle, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msgData(msg)
		if !ok {
			continue
		}
		var bar SnapshotCandle
		if err := json.Unmarshal([]byte(raw), &bar); err != nil || bar.TS == "" {
			continue
		}
		bars = append(bars, bar)
	}
	return bars
}

// indSample is the engine's published indicator payload as it sits on
// the ind:* streams.
type indSample struct {
	Value float64 `json:"value"`
	TS    string  `json:"ts"`
	Ready bool    `json:"ready"`
}

// latestPerBar collapses duplicate timestamps down to the most recently
// written sample. Backfill recomputation appends the same bar several
// times with the newest last, so later entries win. Output is sorted
// oldest-first.
func latestPerBar(points []SnapshotIndPoint) []SnapshotIndPoint {
	byTS := make(map[string]SnapshotIndPoint, len(points))
	for _, pt := range points {
		byTS[pt.TS] = pt
	}
	out := make([]SnapshotIndPoint, 0, len(byTS))
	for _, pt := range byTS {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out
}

// entryHistory loads one indicator's snapshot series: decoded, filtered
// against the chart bounds, deduplicated, oldest-first.
func entryHistory(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, entry IndEntry, limit int, bounds chartBounds) []SnapshotIndPoint {
	stream := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
	msgs, err := streamTail(ctx, rdb, stream, limit)
	if err != nil {
		log.Printf("[subscribe] reading %s: %v", stream, err)
		return []SnapshotIndPoint{}
	}

	kept := make([]SnapshotIndPoint, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msgData(msg)
		if !ok {
			continue
		}
		var s indSample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		if !s.Ready || s.TS == "" {
			continue
		}
		if !bounds.admitsValue(entry.Name, s.Value) || !bounds.admitsTime(s.TS) {
			continue
		}
		kept = append(kept, SnapshotIndPoint{TS: s.TS, Value: s.Value, Ready: s.Ready})
	}
	return latestPerBar(kept)
}

// BuildSnapshotFromRedis assembles a SNAPSHOT reply: up to candleLimit
// bars from the market's candle stream plus the history of every
// subscribed indicator, keyed "NAME:TF".
func BuildSnapshotFromRedis(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, candleLimit int) (*SnapshotResponse, error) {
	if candleLimit <= 0 {
		candleLimit = 500
	}
	if candleLimit > 1000 {
		candleLimit = 1000
	}

	snap := &SnapshotResponse{
		Type:       "SNAPSHOT",
		Symbol:     sub.Symbol,
		TF:         sub.TF,
		Indicators: make(map[string][]SnapshotIndPoint, len(sub.IndEntries)),
	}

	candleStream := fmt.Sprintf("candle:%ds:%s", sub.TF, sub.Symbol)
	msgs, err := streamTail(ctx, rdb, candleStream, candleLimit)
	if err != nil {
		// A missing stream is an empty chart, not a failed subscribe.
		log.Printf("[subscribe] reading %s: %v", candleStream, err)
	}
	snap.Candles = decodeCandles(msgs)

	bounds := boundsFor(snap.Candles, sub.TF)
	if bounds.hi > 0 {
		log.Printf("[subscribe] %s bounds: price %.2f..%.2f, time %s..%s",
			sub.SubKey(), bounds.lo, bounds.hi, bounds.from.Format(time.RFC3339), bounds.to.Format(time.RFC3339))
	}

	for _, entry := range sub.IndEntries {
		snap.Indicators[entry.Key()] = entryHistory(ctx, rdb, sub, entry, candleLimit, bounds)
	}
	return snap, nil
}

// ── Client send helpers ──

// SendJSON marshals v onto the client's send buffer. Overflow drops the
// frame; a slow consumer must never stall the hub.
func SendJSON(c *Client, v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Printf("[subscribe] encode: %v", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Println("[subscribe] send buffer full, dropping frame")
	}
}

// SendError sends an ERROR frame tied to the originating request.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}

// ── Engine config push ──

// activeConfigs snapshots the hub's running indicator set in reload
// grammar. Hub names carry underscores; the grammar wants colons.
func activeConfigs(hub *Hub) []string {
	hub.mu.RLock()
	names := make([]string, len(hub.Indicators))
	copy(names, hub.Indicators)
	hub.mu.RUnlock()

	configs := make([]string, 0, len(names))
	for _, name := range names {
		parts := strings.Split(name, "_")
		if len(parts) < 2 {
			continue
		}
		configs = append(configs, strings.Join(parts, ":"))
	}
	return configs
}

// publishNewIndicators folds the request's indicators into the hub's
// running set. When the request brings anything new, the merged config
// list goes out over config:indicators so the engine can backfill and
// start computing it. Reports whether a push happened.
func publishNewIndicators(ctx context.Context, rdb *goredis.Client, hub *Hub, newSpecs []IndicatorSpec) bool {
	configs := activeConfigs(hub)
	known := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		known[cfg] = true
	}

	var addedNames []string
	for _, spec := range newSpecs {
		cfg := IndicatorSpecToConfig(spec)
		if known[cfg] {
			continue
		}
		known[cfg] = true
		configs = append(configs, cfg)
		addedNames = append(addedNames, IndicatorSpecToName(spec))
	}
	if len(addedNames) == 0 {
		return false
	}

	hub.mu.Lock()
	hub.Indicators = append(hub.Indicators, addedNames...)
	hub.mu.Unlock()

	joined := strings.Join(configs, ",")
	log.Printf("[subscribe] publishing indicator set: %s", joined)

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Publish(pctx, "config:indicators", joined).Err(); err != nil {
		log.Printf("[subscribe] config:indicators publish: %v", err)
	}
	return true
}

// indicatorStreamsLive reports whether every subscribed indicator
// stream holds at least one entry.
func indicatorStreamsLive(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription) bool {
	for _, entry := range sub.IndEntries {
		stream := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
		n, err := rdb.XLen(ctx, stream).Result()
		if err != nil || n == 0 {
			return false
		}
	}
	return true
}

// waitForIndicators blocks until freshly requested indicators have data
// behind them, bounded by timeout. Without the wait, the snapshot after
// a config push races the engine's backfill and comes back empty.
func waitForIndicators(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, timeout time.Duration) {
	giveUp := time.After(timeout)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-giveUp:
			log.Printf("[subscribe] indicator streams still empty after %s, serving what exists", timeout)
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			if indicatorStreamsLive(ctx, rdb, sub) {
				log.Printf("[subscribe] %d indicator streams populated", len(sub.IndEntries))
				return
			}
		}
	}
}
