package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"crypto-systemv1/internal/session"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// ActiveConfig is the dashboard's current indicator display set.
type ActiveConfig struct {
	Entries []IndicatorEntry `json:"entries"`
}

// IndicatorEntry is one displayed indicator.
type IndicatorEntry struct {
	Name  string `json:"name"`
	TF    int    `json:"tf"`
	Color string `json:"color,omitempty"`
}

// Hub owns the WS client set and composes the focused pieces around it:
// PubSubRouter (Redis subscriptions → routing), Broadcaster (envelopes →
// filtered fan-out), ConfigStore (active config persistence).
type Hub struct {
	Rdb        *goredis.Client
	TFs        []int
	Markets    []string // "EXCHANGE:SYMBOL", e.g. "BINANCE:BTCUSDT"
	Indicators []string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  map[string]latestEntry
	seq     int64

	// per-channel monotonic sequence for gap detection
	channelSeqs map[string]int64

	// per-channel replay rings for gap backfill
	replayBufs map[string]*ReplayBuffer

	activeConfig ActiveConfig

	Latency *LatencyTracker

	Router      *PubSubRouter
	Broadcaster *Broadcaster
	ConfigStore *ConfigStore
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub assembles the hub and its sub-components and restores any
// persisted active config. The config starts empty otherwise; the
// frontend adds indicators as users enable them.
func NewHub(rdb *goredis.Client, tfs []int, markets, indicators []string) *Hub {
	h := &Hub{
		Rdb:          rdb,
		TFs:          tfs,
		Markets:      markets,
		Indicators:   indicators,
		clients:      make(map[*Client]struct{}),
		latest:       make(map[string]latestEntry),
		channelSeqs:  make(map[string]int64),
		replayBufs:   make(map[string]*ReplayBuffer),
		Latency:      NewLatencyTracker(10000),
		activeConfig: ActiveConfig{Entries: []IndicatorEntry{}},
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	h.ConfigStore = NewConfigStore(h, rdb)

	h.ConfigStore.Load(context.Background())

	return h
}

// GetActiveConfig reads through to the ConfigStore.
func (h *Hub) GetActiveConfig() ActiveConfig {
	return h.ConfigStore.Get()
}

// SetActiveConfig writes through to the ConfigStore.
func (h *Hub) SetActiveConfig(cfg ActiveConfig) {
	h.ConfigStore.Set(cfg)
}

// Run drives the PubSub subscriptions until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	channels := h.buildChannels()
	if len(channels) == 0 {
		log.Println("[api_gateway] no explicit channels configured, pattern subscription only")
		h.Router.RunPattern(ctx)
		return
	}

	go h.Router.RunPattern(ctx)
	h.Router.RunExplicit(ctx)
}

// marketChannels enumerates one market's publish channels: every
// indicator on every TF, the TF candles, and the 1s candle feed.
func (h *Hub) marketChannels(mk string) []string {
	var out []string
	for _, tf := range h.TFs {
		for _, ind := range h.Indicators {
			out = append(out, fmt.Sprintf("pub:ind:%s:%ds:%s", ind, tf, mk))
		}
		out = append(out, fmt.Sprintf("pub:candle:%ds:%s", tf, mk))
	}
	return append(out, "pub:candle:1s:"+mk)
}

// buildChannels is the full cross-product across configured markets.
func (h *Hub) buildChannels() []string {
	var out []string
	for _, mk := range h.Markets {
		out = append(out, h.marketChannels(mk)...)
	}
	return out
}

func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// addClient registers a client and returns the new attachment count.
func (h *Hub) addClient(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

// HandleWSRequest adopts an upgraded connection as a hub client and
// starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	count := h.addClient(client)
	log.Printf("[api_gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient detaches a client and releases its send buffer.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// GetLatestAll copies out the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for channel, entry := range h.latest {
		out[channel] = entry.Data
	}
	return out
}

// GetReplayRange returns the buffered envelopes for [fromSeq, toSeq] on
// one channel. Backs the /api/missed endpoint.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb := h.replayBufs[channel]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}

	entries := rb.Range(fromSeq, toSeq)
	payloads := make([][]byte, 0, len(entries))
	for _, e := range entries {
		payloads = append(payloads, e.Data)
	}
	return payloads
}

// GetChannelSeq returns a channel's current sequence number.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns how many WS clients are attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// pushToAll hands one frame to every attached client, dropping where a
// send buffer is full.
func (h *Hub) pushToAll(frame []byte) {
	h.mu.RLock()
	for client := range h.clients {
		client.trySend(frame)
	}
	h.mu.RUnlock()
}

// metricsEnvelope samples the process and pipeline gauges into one
// broadcast frame. The session block carries the funding countdown; the
// venue itself never closes, so there is no open/close status to report.
func (h *Hub) metricsEnvelope(ctx context.Context, start time.Time) []byte {
	now := time.Now()
	m := CollectMetrics(start)
	if v, ok := ReadIndicatorLatency(ctx, h.Rdb); ok {
		m.IndicatorMs = v
	}
	if h.Latency != nil {
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"type":         "metrics",
		"metrics":      m,
		"marketStatus": session.StatusString(now),
		"nextFunding":  session.NextFunding(now).UTC().Format(time.RFC3339),
		"nextDayReset": session.NextDailyReset(now).UTC().Format(time.RFC3339),
	})
	return envelope
}

// StartMetricsBroadcast pushes a metrics envelope to every client each 2s.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pushToAll(h.metricsEnvelope(ctx, start))
		}
	}
}
