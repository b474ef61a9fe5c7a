package ws

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"crypto-systemv1/internal/model"
	"crypto-systemv1/pkg/binance"
)

// Exchange tag stamped on every tick from this feed.
const exchangeName = "BINANCE"

// Retry policy for the upstream socket.
const (
	retryAttempts    = 5
	retryDelaySec    = 5
	retryMultiplier  = 2
	retryDurationMin = 30
)

// IngestConfig selects which markets the feed subscribes to.
type IngestConfig struct {
	// Markets to stream, as "EXCHANGE:SYMBOL" keys or bare symbols.
	Markets []string
}

// Ingest connects to the Binance trade streams and pushes normalized ticks
// into a TickSink (the pipeline's ring buffer in production).
type Ingest struct {
	cfg IngestConfig
	ws  *binance.StreamClient

	// OnReconnect fires whenever the upstream connection drops, so the
	// pipeline can count reconnects.
	OnReconnect func()
}

// New builds a feed for the given markets with the standard retry policy.
func New(cfg IngestConfig) (*Ingest, error) {
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("ws ingest: no markets to subscribe")
	}

	ws := binance.NewStreamClient(retryAttempts, binance.RetryExponential,
		retryDelaySec, retryMultiplier, retryDurationMin)
	return &Ingest{cfg: cfg, ws: ws}, nil
}

// streams maps market keys to trade stream names, tolerating bare symbols.
func (ing *Ingest) streams() []string {
	out := make([]string, 0, len(ing.cfg.Markets))
	for _, key := range ing.cfg.Markets {
		sym := key
		if _, after, found := strings.Cut(key, ":"); found {
			sym = after
		}
		out = append(out, binance.TradeStream(sym))
	}
	return out
}

// ForceReconnect drops the current socket; the retry loop reconnects and
// resubscribes. The feed watchdog calls this when the stream goes silent
// on a connection that never errored.
func (ing *Ingest) ForceReconnect() {
	ing.ws.Bounce()
}

// wireHandlers installs the stream callbacks: subscribe on open, normalize
// trades into the sink, count reconnects.
func (ing *Ingest) wireHandlers(sink model.TickSink) {
	ing.ws.OnOpen = func() {
		streams := ing.streams()
		log.Printf("[ws] connected, subscribing streams=%v", streams)
		if err := ing.ws.Subscribe(streams); err != nil {
			log.Printf("[ws] subscribe error: %v", err)
			return
		}
		log.Println("[ws] subscription sent successfully")
	}

	ing.ws.OnTrade = func(ev binance.TradeEvent) {
		tick, err := parseTick(ev)
		if err != nil {
			log.Printf("[ws] parse error: %v", err)
			return
		}
		if !sink.Push(tick) {
			log.Println("[ws] sink full, dropping tick")
		}
	}

	ing.ws.OnClose = func() {
		log.Println("[ws] connection closed")
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}

	ing.ws.OnError = func(code, msg string) {
		log.Printf("[ws] error: code=%s msg=%s", code, msg)
	}
}

// Start connects to the WebSocket and begins pushing ticks into sink.
// Blocks until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, sink model.TickSink) error {
	ing.wireHandlers(sink)

	if err := ing.ws.Connect(); err != nil {
		return fmt.Errorf("ws ingest: connect: %w", err)
	}

	<-ctx.Done()
	ing.ws.CloseConnection()
	return nil
}

// f64 parses a Binance decimal-string field.
func f64(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", field, s, err)
	}
	return v, nil
}

// parseTick converts a raw trade event into a model.Tick.
func parseTick(ev binance.TradeEvent) (model.Tick, error) {
	if ev.Symbol == "" {
		return model.Tick{}, fmt.Errorf("missing symbol")
	}
	price, err := f64("price", ev.Price)
	if err != nil {
		return model.Tick{}, err
	}
	qty, err := f64("qty", ev.Quantity)
	if err != nil {
		return model.Tick{}, err
	}

	tick := model.Tick{
		Symbol:   ev.Symbol,
		Exchange: exchangeName,
		Price:    price,
		Qty:      qty,
		TickTS:   time.Now().UTC(),
	}
	// Prefer the exchange trade timestamp when the event carries one.
	if ev.TradeTime > 0 {
		tick.TickTS = time.Unix(0, ev.TradeTime*int64(time.Millisecond)).UTC()
	}
	return tick, nil
}
