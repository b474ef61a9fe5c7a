package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	readIdleLimit = 60 * time.Second
)

// Client is one connected WebSocket peer.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	filters ClientFilters

	subMu sync.RWMutex
	subs  map[string]*ClientSubscription // keyed "market:tf"
}

// ClientFilters is the legacy coarse filter set (pre-SUBSCRIBE clients).
type ClientFilters struct {
	TFs        []int    `json:"tfs"`
	Markets    []string `json:"markets"`
	Indicators []string `json:"indicators"`
}

// newClient binds an upgraded connection to the hub with the legacy
// firehose filters prefilled.
func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]*ClientSubscription),
		filters: ClientFilters{
			TFs:     h.TFs,
			Markets: h.Markets,
		},
	}
}

// trySend queues a frame without blocking; full buffer drops it.
func (c *Client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// cutoffFrom parses an RFC3339Nano resume cursor. Zero when absent or
// malformed, which replays the whole latest-cache.
func cutoffFrom(lastTS string) time.Time {
	if lastTS == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, lastTS)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// sendInitialState pushes the hub's latest-per-channel cache to a fresh
// client, skipping entries at or before the client's resume cursor.
func (c *Client) sendInitialState(lastTS string) {
	cutoff := cutoffFrom(lastTS)

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		frame, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		c.trySend(frame)
	}
}

// writeFrame sends msg plus everything queued behind it as a single
// newline-separated frame.
func (c *Client) writeFrame(msg []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(msg)
	for pending := len(c.send); pending > 0; pending-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}
	return w.Close()
}

// writePump owns the connection's write side. Queued messages coalesce
// into one frame; pings keep the peer's read deadline fresh.
func (c *Client) writePump() {
	pinger := time.NewTicker(pingInterval)
	defer func() {
		pinger.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.writeFrame(msg); err != nil {
				return
			}
		case <-pinger.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump owns the read side: protocol frames (SUBSCRIBE/UNSUBSCRIBE),
// latency pings, and legacy filter updates.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[api_gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096) // room for an indicator profile in a SUBSCRIBE
	c.conn.SetReadDeadline(time.Now().Add(readIdleLimit))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readIdleLimit))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatchFrame(frame)
	}
}

// dispatchFrame routes one inbound frame by its type field.
func (c *Client) dispatchFrame(frame []byte) {
	var head struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if json.Unmarshal(frame, &head) != nil {
		return
	}

	switch head.Type {
	case "SUBSCRIBE":
		var req SubscribeMsg
		if err := json.Unmarshal(frame, &req); err != nil {
			SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
			return
		}
		// Snapshot assembly can block on Redis; keep the read loop hot.
		go c.handleSubscribe(req)

	case "UNSUBSCRIBE":
		var req UnsubscribeMsg
		if err := json.Unmarshal(frame, &req); err != nil {
			return
		}
		c.handleUnsubscribe(req)

	default:
		if head.Ping > 0 {
			c.answerPing(head.Ping)
			return
		}
		// Anything else is treated as a legacy filter update.
		var filters ClientFilters
		if json.Unmarshal(frame, &filters) == nil {
			c.filters = filters
		}
	}
}

// answerPing echoes a latency probe with the server clock attached.
func (c *Client) answerPing(ping int64) {
	pong, _ := json.Marshal(map[string]interface{}{
		"type":      "pong",
		"ping":      ping,
		"server_ts": time.Now().UnixMilli(),
	})
	c.trySend(pong)
}

// rememberSub records a subscription under its "market:tf" key.
func (c *Client) rememberSub(sub *ClientSubscription) {
	c.subMu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]*ClientSubscription)
	}
	c.subs[sub.SubKey()] = sub
	c.subMu.Unlock()
}

// ensureIndicators pushes any unknown requested indicators to the engine,
// then blocks until the subscription's streams exist. Known indicators need
// only a stream check; brand-new ones need the engine to recompute history
// first, so they get longer.
func (c *Client) ensureIndicators(ctx context.Context, sub *ClientSubscription, requested []IndicatorSpec) {
	hasNew := publishNewIndicators(ctx, c.hub.Rdb, c.hub, requested)
	if len(sub.IndEntries) == 0 {
		return
	}

	wait := 3 * time.Second
	if hasNew {
		wait = 8 * time.Second
		log.Printf("[subscribe] waiting for the engine to compute new indicators...")
	}
	waitForIndicators(ctx, c.hub.Rdb, sub, wait)
}

// answerWithSnapshot assembles the snapshot reply from Redis and sends it.
func (c *Client) answerWithSnapshot(ctx context.Context, msg SubscribeMsg, sub *ClientSubscription) {
	limit := msg.History.Candles
	if limit <= 0 {
		limit = 500
	}

	snap, err := BuildSnapshotFromRedis(ctx, c.hub.Rdb, sub, limit)
	if err != nil {
		SendError(c, msg.ReqID, "snapshot build failed: "+err.Error())
		return
	}
	snap.ReqID = msg.ReqID

	SendJSON(c, snap)
	log.Printf("[subscribe] sent snapshot: symbol=%s tf=%d candles=%d indicators=%d",
		msg.Symbol, msg.TF, len(snap.Candles), len(snap.Indicators))
}

// handleSubscribe validates, records, and answers a SUBSCRIBE with a
// snapshot, pushing any new indicators to the engine first.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if msg.Symbol == "" || msg.TF <= 0 {
		SendError(c, msg.ReqID, "symbol and tf are required")
		return
	}

	sub := &ClientSubscription{
		Symbol:     msg.Symbol,
		TF:         msg.TF,
		Indicators: msg.Indicators,
		IndEntries: ResolveIndEntries(msg.Indicators, msg.TF),
	}
	c.rememberSub(sub)

	keys := make([]string, 0, len(sub.IndEntries))
	for _, e := range sub.IndEntries {
		keys = append(keys, e.Key())
	}
	log.Printf("[subscribe] client subscribed: symbol=%s tf=%d indicators=%v",
		msg.Symbol, msg.TF, keys)

	ctx := context.Background()
	c.ensureIndicators(ctx, sub, msg.Indicators)
	c.answerWithSnapshot(ctx, msg, sub)
}

// handleUnsubscribe drops one (market, tf) subscription.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	key := (&ClientSubscription{Symbol: msg.Symbol, TF: msg.TF}).SubKey()
	c.subMu.Lock()
	delete(c.subs, key)
	c.subMu.Unlock()

	log.Printf("[subscribe] client unsubscribed: symbol=%s tf=%d", msg.Symbol, msg.TF)
}

// subMatches reports whether one subscription covers a parsed channel.
// Indicators match on name AND TF; SMA_20@60 is not SMA_20@300.
func subMatches(sub *ClientSubscription, pc *parsedChannel) bool {
	switch pc.chType {
	case "candle":
		return sub.TF == pc.tf
	case "indicator":
		for _, entry := range sub.IndEntries {
			if entry.Name == pc.indName && entry.TF == pc.tf {
				return true
			}
		}
	}
	return false
}

// matchesChannel decides whether a broadcast on the given PubSub channel
// belongs to this client.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	// A client that never subscribed runs in legacy firehose mode.
	if len(c.subs) == 0 {
		return true
	}

	pc := parseChannel(channel)
	if pc == nil {
		// Non-data traffic (metrics, config) goes to everyone.
		return true
	}

	market := pc.exchange + ":" + pc.symbol
	for _, s := range c.subs {
		if s.Symbol == market && subMatches(s, pc) {
			return true
		}
	}
	return false
}

// parsedChannel is the broken-down form of a data PubSub channel name.
type parsedChannel struct {
	chType   string // "candle", "indicator", "tick"
	indName  string // indicator channels: "SMA_20", "EWO_5_35"
	tf       int    // seconds
	exchange string
	symbol   string
}

// parseChannel splits "pub:candle:60s:BINANCE:BTCUSDT",
// "pub:ind:SMA_20:60s:BINANCE:BTCUSDT", or "pub:tick:BINANCE:BTCUSDT".
// Nil for anything else.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) < 4 || parts[0] != "pub" {
		return nil
	}

	switch parts[1] {
	case "candle":
		if len(parts) < 5 {
			return nil
		}
		return &parsedChannel{chType: "candle", tf: parseTFStr(parts[2]), exchange: parts[3], symbol: parts[4]}
	case "ind":
		if len(parts) < 6 {
			return nil
		}
		return &parsedChannel{chType: "indicator", indName: parts[2], tf: parseTFStr(parts[3]), exchange: parts[4], symbol: parts[5]}
	case "tick":
		return &parsedChannel{chType: "tick", exchange: parts[2], symbol: parts[3]}
	}
	return nil
}

// parseTFStr reads "60s" as 60.
func parseTFStr(s string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(s, "s"))
	return n
}
