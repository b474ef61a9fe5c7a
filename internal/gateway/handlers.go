package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS applies the CORS headers every REST endpoint serves.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// jsonHeaders preps a REST response: CORS plus content type.
func jsonHeaders(w http.ResponseWriter) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
}

// beforeBound converts a ?before= timestamp into an exclusive XREVRANGE
// upper bound. "+" (stream end) when absent or unparseable.
func beforeBound(beforeStr string) string {
	if beforeStr == "" {
		return "+"
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, beforeStr); err == nil {
			return fmt.Sprintf("%d-0", t.UnixMilli()-1)
		}
	}
	return "+"
}

// clampLimit parses ?limit= with a default and a 1000 cap.
func clampLimit(limitStr string, def int) int {
	if limitStr == "" {
		return def
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil || l <= 0 || l > 1000 {
		return def
	}
	return l
}

// marketOrDefault falls back to the first configured market when the
// query named none.
func marketOrDefault(symbol string, markets []string) string {
	if symbol == "" && len(markets) > 0 {
		return markets[0]
	}
	return symbol
}

// readCandleWindow pulls and decodes candle history for one REST query.
// Never nil; a missing stream yields an empty slice.
func readCandleWindow(ctx context.Context, rdb *goredis.Client, stream, upper string, limit, tf int) []CandleOut {
	out := []CandleOut{}
	msgs, err := rdb.XRevRangeN(ctx, stream, upper, "-", int64(limit)).Result()
	if err != nil {
		return out
	}
	chronological(msgs)

	for _, msg := range msgs {
		raw, ok := msgData(msg)
		if !ok {
			continue
		}
		var c CandleOut
		if err := json.Unmarshal([]byte(raw), &c); err != nil || c.TS == "" {
			continue
		}
		c.TF = tf
		out = append(out, c)
	}
	return out
}

// readIndWindow pulls and decodes indicator history for one REST query.
// Warmup samples (not ready) are dropped.
func readIndWindow(ctx context.Context, rdb *goredis.Client, stream, upper string, limit int) []IndPoint {
	out := []IndPoint{}
	msgs, err := rdb.XRevRangeN(ctx, stream, upper, "-", int64(limit)).Result()
	if err != nil {
		return out
	}
	chronological(msgs)

	for _, msg := range msgs {
		raw, ok := msgData(msg)
		if !ok {
			continue
		}
		var s indSample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		if s.Ready && s.TS != "" {
			out = append(out, IndPoint{Value: s.Value, TS: s.TS, Ready: s.Ready})
		}
	}
	return out
}

// entrySpecs converts "SMA_20" display entries into deduplicated
// "SMA:20" reload specs.
func entrySpecs(entries []IndicatorEntry) []string {
	seen := make(map[string]bool)
	var specs []string
	for _, entry := range entries {
		parts := strings.Split(entry.Name, "_")
		if len(parts) < 2 {
			continue
		}
		spec := strings.Join(parts, ":")
		if seen[spec] {
			continue
		}
		seen[spec] = true
		specs = append(specs, spec)
	}
	return specs
}

// pushConfig hands a spec list to the engine over config:indicators.
func pushConfig(ctx context.Context, rdb *goredis.Client, specs []string) {
	payload := strings.Join(specs, ",")
	if err := rdb.Publish(ctx, "config:indicators", payload).Err(); err != nil {
		log.Printf("[api_gateway] publish config:indicators failed: %v", err)
		return
	}
	log.Printf("[api_gateway] pushed indicator config to the engine: %s", payload)
}

// writeMissedPayload splices pre-marshalled envelopes into the /api/missed
// response without re-encoding them.
func writeMissedPayload(w http.ResponseWriter, channel string, currentSeq int64, envelopes [][]byte) {
	w.Write([]byte(`{"channel":`))
	chJSON, _ := json.Marshal(channel)
	w.Write(chJSON)
	fmt.Fprintf(w, `,"current_seq":%d,"envelopes":[`, currentSeq)
	for i, env := range envelopes {
		if i > 0 {
			w.Write([]byte{','})
		}
		w.Write(env)
	}
	w.Write([]byte("]}"))
}

// RegisterRoutes mounts the gateway's WS endpoint and REST API on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, rdb *goredis.Client, ctx context.Context, tfs []int, markets, indicators []string, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api_gateway] ws upgrade: %v", err)
			return
		}
		hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/indicators/latest", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)
		json.NewEncoder(w).Encode(hub.GetLatestAll())
	})

	mux.HandleFunc("/api/tfs", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)
		tfList := make([]TFInfo, 0, len(tfs))
		for _, tf := range tfs {
			tfList = append(tfList, TFInfo{Seconds: tf, Label: TFLabel(tf)})
		}
		json.NewEncoder(w).Encode(tfList)
	})

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tfs":        tfs,
			"markets":    markets,
			"indicators": indicators,
		})
	})

	// GET returns the dashboard's active indicator set; POST replaces it
	// and pushes the resulting spec list to the engine.
	mux.HandleFunc("/api/indicators/active", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)

		switch r.Method {
		case "OPTIONS":
			w.WriteHeader(http.StatusOK)

		case "POST":
			var req ActiveConfig
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			hub.SetActiveConfig(req)
			log.Printf("[api_gateway] active config updated: %d entries", len(req.Entries))

			if specs := entrySpecs(req.Entries); len(specs) > 0 {
				pushConfig(ctx, rdb, specs)
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

		default:
			json.NewEncoder(w).Encode(hub.GetActiveConfig())
		}
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)
		m := CollectMetrics(processStart)
		if v, ok := ReadIndicatorLatency(r.Context(), rdb); ok {
			m.IndicatorMs = v
		}
		if hub.Latency != nil {
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		}
		json.NewEncoder(w).Encode(m)
	})

	// Candle history out of the Redis streams; style=heikin returns
	// Heikin-Ashi bars computed server-side.
	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)

		q := r.URL.Query()
		tfVal, _ := strconv.Atoi(q.Get("tf"))
		if tfVal <= 0 {
			tfVal = 60
		}
		symbol := marketOrDefault(q.Get("symbol"), markets)

		stream := fmt.Sprintf("candle:%ds:%s", tfVal, symbol)
		candles := readCandleWindow(ctx, rdb, stream, beforeBound(q.Get("before")), clampLimit(q.Get("limit"), 200), tfVal)

		if q.Get("style") == "heikin" {
			candles = HeikinAshi(candles)
		}
		json.NewEncoder(w).Encode(candles)
	})

	// Indicator history out of the Redis streams.
	mux.HandleFunc("/api/indicators/history", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)

		q := r.URL.Query()
		name := q.Get("name")
		tfStr := q.Get("tf")
		if name == "" || tfStr == "" {
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}
		tfVal, _ := strconv.Atoi(tfStr)
		if tfVal <= 0 {
			tfVal = 60
		}
		symbol := marketOrDefault(q.Get("symbol"), markets)

		stream := fmt.Sprintf("ind:%s:%ds:%s", name, tfVal, symbol)
		points := readIndWindow(ctx, rdb, stream, beforeBound(q.Get("before")), clampLimit(q.Get("limit"), 300))
		json.NewEncoder(w).Encode(points)
	})

	// Replay buffered envelopes for client gap backfill:
	// GET /api/missed?channel=pub:candle:60s:BINANCE:BTCUSDT&from=10&to=20
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)

		q := r.URL.Query()
		channel := q.Get("channel")
		fromSeq, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		toSeq, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if channel == "" || err1 != nil || err2 != nil || fromSeq > toSeq {
			http.Error(w, `{"error":"channel, from, to query params required"}`, http.StatusBadRequest)
			return
		}

		writeMissedPayload(w, channel, hub.GetChannelSeq(channel), hub.GetReplayRange(channel, fromSeq, toSeq))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonHeaders(w)

		redisOK := rdb.Ping(r.Context()).Err() == nil

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
