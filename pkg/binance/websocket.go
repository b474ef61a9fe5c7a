package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamClient connects to the Binance combined-stream websocket endpoint.
// It provides Subscribe / Unsubscribe, auto-resubscribe after reconnects,
// heartbeat (ping/pong) handling and typed trade event dispatch.

const (
	StreamRootURI     = "wss://stream.binance.com:9443/stream"
	HeartBeatInterval = 30 * time.Second

	// Combined-stream connections are capped by the exchange.
	MaxStreamsPerConnection = 1024
)

// Retry strategies for reconnect backoff.
const (
	RetrySimple      = 0
	RetryExponential = 1
)

const (
	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"
)

// TradeEvent is one raw trade from a <symbol>@trade stream.
type TradeEvent struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// combinedFrame is the envelope the combined endpoint wraps every payload in.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// TradeStream returns the stream name for a symbol's raw trades.
func TradeStream(symbol string) string { return strings.ToLower(symbol) + "@trade" }

// KlineStream returns the stream name for a symbol's kline updates.
func KlineStream(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// MiniTickerStream returns the stream name for a symbol's rolling mini ticker.
func MiniTickerStream(symbol string) string { return strings.ToLower(symbol) + "@miniTicker" }

// StreamClient struct
type StreamClient struct {
	// RootURI may be overridden before Connect, e.g. for the alternate
	// data-only endpoint data-stream.binance.vision.
	RootURI string

	Conn   *websocket.Conn
	Dialer *websocket.Dialer

	mu         sync.Mutex
	writeMu    sync.Mutex
	subscribed map[string]struct{}
	nextID     int

	resubscribeFlag bool
	disconnectFlag  bool

	lastPongTimestamp time.Time

	// retry config
	maxRetryAttempt int
	retryStrategy   int
	retryDelay      time.Duration
	retryMultiplier int
	retryDuration   time.Duration

	// Callbacks
	OnTrade          func(ev TradeEvent)
	OnData           func(stream string, msg map[string]any)
	OnOpen           func()
	OnClose          func()
	OnError          func(code, msg string)
	OnControlMessage func(msg map[string]any)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStreamClient builds a client for the public market streams. No auth is
// required; the parameters configure reconnect behavior only.
func NewStreamClient(maxRetryAttempt int, retryStrategy int, retryDelaySec int, retryMultiplier int, retryDurationMin int) *StreamClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamClient{
		RootURI:         StreamRootURI,
		Dialer:          websocket.DefaultDialer,
		subscribed:      make(map[string]struct{}),
		disconnectFlag:  true,
		maxRetryAttempt: maxRetryAttempt,
		retryStrategy:   retryStrategy,
		retryDelay:      time.Duration(retryDelaySec) * time.Second,
		retryMultiplier: retryMultiplier,
		retryDuration:   time.Duration(retryDurationMin) * time.Minute,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Connect establishes the websocket connection and starts read/heartbeat loops.
func (s *StreamClient) Connect() error {
	conn, resp, err := s.Dialer.Dial(s.RootURI, nil)
	if err != nil {
		if resp != nil {
			log.Printf("Dial failed, status: %s", resp.Status)
		}
		return err
	}

	log.Printf("Connected to %s status: %s", s.RootURI, resp.Status)

	s.mu.Lock()
	s.Conn = conn
	s.disconnectFlag = false
	s.mu.Unlock()

	// The server pings periodically and drops connections that never pong.
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(appData string) error {
		s.mu.Lock()
		s.lastPongTimestamp = time.Now()
		s.mu.Unlock()
		return nil
	})

	// Loops are bound to this conn so stale goroutines die with it.
	go s.readLoop(conn)
	go s.heartbeatLoop(conn)

	if s.OnOpen != nil {
		s.OnOpen()
	}

	return nil
}

// CloseConnection shuts the stream down for good; no reconnect is attempted.
func (s *StreamClient) CloseConnection() {
	s.mu.Lock()
	s.resubscribeFlag = false
	s.disconnectFlag = true
	conn := s.Conn
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	s.cancel()
}

// Bounce force-closes the current socket without marking the stream
// disconnected, so the read loop's error path reconnects and resubscribes.
// Used when the feed goes silent on a connection that is still nominally up.
func (s *StreamClient) Bounce() {
	s.mu.Lock()
	conn := s.Conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Subscribe sends a live SUBSCRIBE request and saves the stream names for
// resubscribe after reconnects.
func (s *StreamClient) Subscribe(streams []string) error {
	if len(streams) == 0 {
		return errors.New("no streams given")
	}

	s.mu.Lock()
	if len(s.subscribed)+len(streams) > MaxStreamsPerConnection {
		s.mu.Unlock()
		return fmt.Errorf("quota exceeded: at most %d streams per connection", MaxStreamsPerConnection)
	}
	for _, st := range streams {
		s.subscribed[st] = struct{}{}
	}
	s.nextID++
	id := s.nextID
	s.resubscribeFlag = true
	s.mu.Unlock()

	return s.sendJSON(map[string]any{
		"method": methodSubscribe,
		"params": streams,
		"id":     id,
	})
}

// Unsubscribe removes streams from the connection and from resubscribe state.
func (s *StreamClient) Unsubscribe(streams []string) error {
	s.mu.Lock()
	for _, st := range streams {
		delete(s.subscribed, st)
	}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	return s.sendJSON(map[string]any{
		"method": methodUnsubscribe,
		"params": streams,
		"id":     id,
	})
}

// Resubscribe resends one SUBSCRIBE request covering all stored streams.
func (s *StreamClient) Resubscribe() error {
	s.mu.Lock()
	streams := make([]string, 0, len(s.subscribed))
	for st := range s.subscribed {
		streams = append(streams, st)
	}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	if len(streams) == 0 {
		return nil
	}
	return s.sendJSON(map[string]any{
		"method": methodSubscribe,
		"params": streams,
		"id":     id,
	})
}

// Subscribed reports whether a stream is part of the current subscription set.
func (s *StreamClient) Subscribed(stream string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribed[stream]
	return ok
}

func (s *StreamClient) sendJSON(v any) error {
	s.mu.Lock()
	conn := s.Conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop reads frames from one connection until it dies, dispatching
// stream payloads and control messages.
func (s *StreamClient) readLoop(conn *websocket.Conn) {
	defer func() {
		if s.OnClose != nil {
			s.OnClose()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("read error: %v", err)
			s.handleError(err)
			return
		}

		var frame combinedFrame
		if jerr := json.Unmarshal(message, &frame); jerr == nil && frame.Stream != "" {
			s.dispatchStream(frame)
			continue
		}

		// Not a stream frame: subscription acks {"result":null,"id":1},
		// or request errors {"error":{...},"id":1}.
		var obj map[string]any
		if jerr := json.Unmarshal(message, &obj); jerr != nil {
			log.Printf("unparseable frame: %s", string(message))
			continue
		}
		if errObj, ok := obj["error"].(map[string]any); ok {
			log.Printf("stream request error: %v", errObj)
			if s.OnError != nil {
				s.OnError(toString(errObj["code"]), fmt.Sprint(errObj["msg"]))
			}
			continue
		}
		if s.OnControlMessage != nil {
			s.OnControlMessage(obj)
		}
	}
}

func (s *StreamClient) dispatchStream(frame combinedFrame) {
	var probe struct {
		EventType string `json:"e"`
	}
	_ = json.Unmarshal(frame.Data, &probe)

	if probe.EventType == "trade" && s.OnTrade != nil {
		var ev TradeEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			log.Printf("parse error: stream=%s err=%v", frame.Stream, err)
			return
		}
		s.OnTrade(ev)
		return
	}

	if s.OnData != nil {
		var obj map[string]any
		if err := json.Unmarshal(frame.Data, &obj); err != nil {
			log.Printf("parse error: stream=%s err=%v", frame.Stream, err)
			return
		}
		s.OnData(frame.Stream, obj)
	}
}

// handleError runs the reconnect loop after a read failure. Deliberate
// closes never reconnect.
func (s *StreamClient) handleError(err error) {
	s.mu.Lock()
	if s.disconnectFlag {
		s.mu.Unlock()
		return
	}
	s.resubscribeFlag = true
	max := s.maxRetryAttempt
	s.mu.Unlock()

	delay := s.retryDelay
	var deadline time.Time
	if s.retryDuration > 0 {
		deadline = time.Now().Add(s.retryDuration)
	}

	for attempt := 1; attempt <= max; attempt++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		log.Printf("reconnect attempt %d/%d in %s after error: %v", attempt, max, delay, err)
		time.Sleep(delay)
		if s.retryStrategy == RetryExponential {
			delay *= time.Duration(s.retryMultiplier)
		}

		if cerr := s.Connect(); cerr == nil {
			if rerr := s.Resubscribe(); rerr != nil {
				log.Printf("resubscribe error: %v", rerr)
			}
			return
		}
	}

	if s.OnError != nil {
		s.OnError("Max retry attempt reached", "Connection closed")
	}
}

// heartbeatLoop sends unsolicited pong frames, which the exchange accepts
// as keepalive.
func (s *StreamClient) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(HeartBeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				log.Printf("pong write error: %v", err)
				return
			}
		}
	}
}

// LastPong returns when the server last answered a heartbeat.
func (s *StreamClient) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPongTimestamp
}
