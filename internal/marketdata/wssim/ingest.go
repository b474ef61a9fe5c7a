// Package wssim ingests ticks from a plain-JSON WebSocket feed such as
// cmd/tickserver. Messages carry the model.Tick shape:
//
//	{"symbol":"BTCUSDT","exchange":"BINANCE","price":50123.5,"qty":0.01,"tick_ts":"..."}
//
// It is interchangeable with the Binance ingest in pkg/binance, which makes
// offline runs and custom feeds possible.
package wssim

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"crypto-systemv1/internal/model"

	"github.com/gorilla/websocket"
)

// Config configures the simulated WS ingest.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay seeds the backoff between reconnect attempts.
	// Zero means 2 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the backoff. Zero means 30 seconds.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest streams ticks from a plain-JSON WebSocket into a TickSink. It
// presents the same surface as internal/marketdata/ws.Ingest so the two can
// swap behind a flag.
type Ingest struct {
	cfg Config

	// OnReconnect fires once per reconnection, if set.
	OnReconnect func()
}

// New validates the URL and builds an Ingest.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg}, nil
}

// sleepCtx waits out d, reporting false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Start connects and streams ticks into sink until ctx is cancelled,
// reconnecting with doubling backoff after every disconnect.
func (ing *Ingest) Start(ctx context.Context, sink model.TickSink) error {
	wait := ing.cfg.ReconnectDelay

	for ctx.Err() == nil {
		err := ing.session(ctx, sink)
		if err == nil {
			// clean shutdown via ctx
			return nil
		}

		log.Printf("[wssim] disconnected (%v), reconnecting in %s...", err, wait)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
		if !sleepCtx(ctx, wait) {
			return nil
		}

		if wait *= 2; wait > ing.cfg.MaxReconnectDelay {
			wait = ing.cfg.MaxReconnectDelay
		}
	}
	return nil
}

// closeOnCancel unblocks a pending ReadMessage when ctx ends by sending a
// close frame and tearing the conn down. ReadMessage itself takes no ctx.
func closeOnCancel(ctx context.Context, conn *websocket.Conn) {
	<-ctx.Done()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
	conn.Close()
}

// session holds one connection: dial, then read until the peer or ctx ends
// it. A nil return means ctx cancellation; anything else asks Start to
// redial.
func (ing *Ingest) session(ctx context.Context, sink model.TickSink) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[wssim] connected to %s", ing.cfg.URL)
	go closeOnCancel(ctx, conn)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil // shutdown, not a failure
			}
			return err
		}
		consume(frame, sink)
	}
}

// consume parses one frame and hands the tick to the sink.
func consume(raw []byte, sink model.TickSink) {
	var tick model.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		log.Printf("[wssim] parse error: %v (raw: %s)", err, raw)
		return
	}
	if tick.Symbol == "" {
		log.Printf("[wssim] skipping tick with empty symbol")
		return
	}
	if !sink.Push(tick) {
		log.Println("[wssim] sink full, dropping tick")
	}
}
