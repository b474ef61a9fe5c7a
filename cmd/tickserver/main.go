// cmd/tickserver — simulated trade feed for local development.
// Serves random-walk ticks over WebSocket so mdengine-sim can run without
// touching a live exchange.
//
// The tick JSON matches model.Tick:
//
//	{"symbol":"BTCUSDT","exchange":"BINANCE","price":64231.5,"qty":0.042,"tick_ts":"..."}
//
// with prices in quote units (USDT), same as the live feed.
//
// Env vars:
//
//	TICK_SERVER_ADDR  — listen address  (default: ":9001")
//	TICK_MARKETS      — comma-separated EXCHANGE:SYMBOL pairs (default: "BINANCE:BTCUSDT")
//	TICK_INTERVAL_MS  — broadcast interval milliseconds (default: "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"crypto-systemv1/internal/config"

	"github.com/gorilla/websocket"
)

// tickMsg mirrors model.Tick on the wire.
type tickMsg struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Price    float64   `json:"price"` // quote units (USDT)
	Qty      float64   `json:"qty"`   // base units
	TickTS   time.Time `json:"tick_ts"`
}

// instrument is one simulated market and its walking price.
type instrument struct {
	Symbol   string
	Exchange string
	Price    float64
}

// walk nudges the price by up to ±0.1%, floored so it stays positive.
func (in *instrument) walk() {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	in.Price *= 1 + pct
	if in.Price < 0.0001 {
		in.Price = 0.0001
	}
}

// tick advances the walk one step and wraps it in a wire message.
func (in *instrument) tick() tickMsg {
	in.walk()
	return tickMsg{
		Symbol:   in.Symbol,
		Exchange: in.Exchange,
		Price:    in.Price,
		Qty:      float64(rand.Intn(1000)+1) / 1000.0, // 0.001 — 1.000 base units
		TickTS:   time.Now().UTC(),
	}
}

// ─── Connected clients ────────────────────────────────────────────────────────

type clientSet struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]chan []byte
}

func newClientSet() *clientSet {
	return &clientSet{conns: make(map[*websocket.Conn]chan []byte)}
}

func (s *clientSet) add(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	s.mu.Lock()
	s.conns[conn] = ch
	s.mu.Unlock()
	return ch
}

func (s *clientSet) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.conns[conn]
	if !ok {
		return
	}
	close(ch)
	delete(s.conns, conn)
}

func (s *clientSet) fanout(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.conns {
		select {
		case ch <- msg:
		default: // slow client — drop tick
		}
	}
}

// ─── WS endpoint ──────────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (s *clientSet) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[tickserver] upgrade error: %v", err)
		return
	}
	log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

	ch := s.add(conn)
	defer func() {
		s.drop(conn)
		conn.Close()
		log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
	}()

	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ─── Feed loop ────────────────────────────────────────────────────────────────

// broadcastTicks advances every instrument one step and fans the ticks out.
func (s *clientSet) broadcastTicks(instruments []instrument) {
	for i := range instruments {
		msg, err := json.Marshal(instruments[i].tick())
		if err != nil {
			continue
		}
		s.fanout(msg)
	}
}

func runGenerator(s *clientSet, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		s.broadcastTicks(instruments)
	}
}

// ─── Entry point ──────────────────────────────────────────────────────────────

// serve wires the WS and health endpoints and blocks on the listener.
func serve(addr string, set *clientSet) error {
	http.HandleFunc("/ws", set.handleWS)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] ✅ listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	return http.ListenAndServe(addr, nil)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	config.Load()
	addr := config.GetEnv("TICK_SERVER_ADDR", ":9001")
	marketsEnv := config.GetEnv("TICK_MARKETS", "BINANCE:BTCUSDT")
	intervalMs := config.GetEnvInt("TICK_INTERVAL_MS", 100)

	instruments := parseInstruments(marketsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_MARKETS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	set := newClientSet()
	go runGenerator(set, instruments, intervalMs)

	if err := serve(addr, set); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// parseInstruments reads "BINANCE:BTCUSDT,BINANCE:ETHUSDT" into
// instruments seeded with plausible USDT prices.
func parseInstruments(s string) []instrument {
	seedPrices := map[string]float64{
		"BTCUSDT": 64250.0,
		"ETHUSDT": 3150.0,
		"SOLUSDT": 148.5,
		"BNBUSDT": 592.0,
	}

	var out []instrument
	for _, part := range strings.Split(s, ",") {
		seg := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid market spec: %q", strings.TrimSpace(part))
			continue
		}
		exchange, symbol := strings.TrimSpace(seg[0]), strings.TrimSpace(seg[1])
		price, known := seedPrices[symbol]
		if !known {
			price = 1000.0
		}
		out = append(out, instrument{Symbol: symbol, Exchange: exchange, Price: price})
	}
	return out
}
