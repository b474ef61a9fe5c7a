package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

// wsEnvelope mirrors the wire shape clients decode.
type wsEnvelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

func mustEnvelope(t *testing.T, buf []byte) wsEnvelope {
	t.Helper()
	var env wsEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	return env
}

func TestSealEnvelope_Shape(t *testing.T) {
	channel := "pub:candle:60s:BINANCE:BTCUSDT"
	data := []byte(`{"ts":"2026-02-25T10:00:00Z","o":50100,"h":50250,"l":50080,"c":50210,"v":3.5}`)
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	env := mustEnvelope(t, sealEnvelope(channel, data, now, 42, 7))

	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != 42 || env.ChannelSeq != 7 {
		t.Errorf("seqs: got (%d,%d), want (42,7)", env.Seq, env.ChannelSeq)
	}

	var candle map[string]interface{}
	if err := json.Unmarshal(env.Data, &candle); err != nil {
		t.Fatalf("data payload is not valid JSON: %v", err)
	}
	if _, ok := candle["ts"]; !ok {
		t.Error("data payload lost its ts field")
	}

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil {
		t.Errorf("ts is not RFC3339Nano: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("ts: got %v, want %v", parsed, now)
	}
}

func TestSealEnvelope_IndicatorPayload(t *testing.T) {
	channel := "pub:ind:SMA_20:60s:BINANCE:BTCUSDT"
	data := []byte(`{"value":50103.5,"ready":true}`)

	env := mustEnvelope(t, sealEnvelope(channel, data, time.Now().UTC(), 1, 1))
	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}

	var ind struct {
		Value float64 `json:"value"`
		Ready bool    `json:"ready"`
	}
	if err := json.Unmarshal(env.Data, &ind); err != nil {
		t.Fatalf("indicator payload is not valid JSON: %v", err)
	}
	if ind.Value != 50103.5 {
		t.Errorf("indicator value: got %f, want 50103.5", ind.Value)
	}
	if !ind.Ready {
		t.Error("indicator payload lost ready=true")
	}
}

func TestSealEnvelope_NestedData(t *testing.T) {
	// Data is spliced in raw; nesting and arrays must survive untouched.
	data := []byte(`{"note":"test","nested":{"a":1},"arr":[1,2,3]}`)

	env := mustEnvelope(t, sealEnvelope("pub:candle:1s:BINANCE:ETHUSDT", data, time.Now().UTC(), 999, 3))
	if env.Seq != 999 {
		t.Errorf("seq: got %d, want 999", env.Seq)
	}
	if string(env.Data) != string(data) {
		t.Errorf("data payload was rewritten:\ngot  %s\nwant %s", env.Data, data)
	}
}

func TestSealEnvelope_SeqRoundTrip(t *testing.T) {
	channel := "pub:candle:60s:BINANCE:BTCUSDT"
	now := time.Now().UTC()

	for i := int64(1); i <= 100; i++ {
		env := mustEnvelope(t, sealEnvelope(channel, []byte(`{}`), now, i, i))
		if env.Seq != i || env.ChannelSeq != i {
			t.Errorf("seq round trip: got (%d,%d), want (%d,%d)", env.Seq, env.ChannelSeq, i, i)
		}
	}
}

func TestChannelParsing(t *testing.T) {
	valid := []struct {
		name    string
		channel string
		chType  string
		tf      int
		ind     string
	}{
		{"candle_60s", "pub:candle:60s:BINANCE:BTCUSDT", "candle", 60, ""},
		{"candle_1s", "pub:candle:1s:BINANCE:BTCUSDT", "candle", 1, ""},
		{"candle_300s", "pub:candle:300s:BINANCE:ETHUSDT", "candle", 300, ""},
		{"indicator_SMA", "pub:ind:SMA_20:60s:BINANCE:BTCUSDT", "indicator", 60, "SMA_20"},
		{"indicator_RSI", "pub:ind:RSI_14:120s:BINANCE:BTCUSDT", "indicator", 120, "RSI_14"},
		{"indicator_EWO", "pub:ind:EWO_5_35:300s:BINANCE:SOLUSDT", "indicator", 300, "EWO_5_35"},
		{"tick_channel", "pub:tick:BINANCE:BTCUSDT", "tick", 0, ""},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parseChannel(tt.channel)
			if parsed == nil {
				t.Fatal("expected non-nil parsed channel")
			}
			if parsed.chType != tt.chType {
				t.Errorf("chType: got %q, want %q", parsed.chType, tt.chType)
			}
			if parsed.tf != tt.tf {
				t.Errorf("tf: got %d, want %d", parsed.tf, tt.tf)
			}
			if tt.ind != "" && parsed.indName != tt.ind {
				t.Errorf("indName: got %q, want %q", parsed.indName, tt.ind)
			}
		})
	}

	for _, channel := range []string{"garbage", "pub:candle", "sub:candle:60s:BINANCE:BTCUSDT"} {
		if parsed := parseChannel(channel); parsed != nil {
			t.Errorf("parseChannel(%q): expected nil, got %+v", channel, parsed)
		}
	}
}

// TestBroadcaster_ChannelSeqIndependent drives the real Broadcast path with a
// clientless hub and checks that per-channel sequences advance independently
// while the global counter covers both.
func TestBroadcaster_ChannelSeqIndependent(t *testing.T) {
	h := NewHub(nil, []int{60}, []string{"BINANCE:BTCUSDT"}, nil)
	channelA := "pub:candle:60s:BINANCE:BTCUSDT"
	channelB := "pub:ind:SMA_20:60s:BINANCE:BTCUSDT"

	for i := 0; i < 3; i++ {
		h.Broadcaster.Broadcast(channelA, []byte(`{}`))
	}
	for i := 0; i < 2; i++ {
		h.Broadcaster.Broadcast(channelB, []byte(`{}`))
	}

	if got := h.GetChannelSeq(channelA); got != 3 {
		t.Errorf("channelA seq: got %d, want 3", got)
	}
	if got := h.GetChannelSeq(channelB); got != 2 {
		t.Errorf("channelB seq: got %d, want 2", got)
	}

	h.mu.RLock()
	global := h.seq
	h.mu.RUnlock()
	if global != 5 {
		t.Errorf("global seq: got %d, want 5", global)
	}

	// Replay buffers picked up every envelope.
	if got := len(h.GetReplayRange(channelA, 1, 3)); got != 3 {
		t.Errorf("channelA replay: got %d envelopes, want 3", got)
	}
	if got := len(h.GetReplayRange(channelB, 1, 2)); got != 2 {
		t.Errorf("channelB replay: got %d envelopes, want 2", got)
	}
}
