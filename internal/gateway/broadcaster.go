package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// Broadcaster seals payloads into WS envelopes and fans them out to the
// clients whose subscriptions match.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// sealEnvelope assembles the wire envelope by direct appends; json.Marshal
// on this path costs an order of magnitude more per message. channel_seq is
// what clients use for gap detection, seq is the legacy global counter.
func sealEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// Broadcast delivers one payload on a channel: bumps both sequence counters,
// caches it as the channel's latest, rings it into the replay buffer, then
// pushes the envelope to every matching client. Client sends never block; a
// slow client misses the message and recovers via /api/missed.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	// Producer-to-gateway latency, when the payload carries its own ts.
	if b.hub.Latency != nil {
		if srcTS := extractTS(data); !srcTS.IsZero() {
			ms := float64(now.Sub(srcTS).Microseconds()) / 1000.0
			if ms >= 0 {
				b.hub.Latency.Record(ms)
			}
		}
	}

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	b.hub.seq++
	seq := b.hub.seq
	b.hub.mu.Unlock()

	buf := sealEnvelope(channel, data, now, seq, channelSeq)

	b.hub.mu.Lock()
	rb, ok := b.hub.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(500)
		b.hub.replayBufs[channel] = rb
	}
	b.hub.mu.Unlock()
	rb.Push(channelSeq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if client.matchesChannel(channel) {
			client.trySend(buf)
		}
	}
}

// extractTS pulls the "ts" field out of a payload so latency can be measured
// against the producer's clock. Zero time when the payload has none.
func extractTS(data []byte) time.Time {
	var partial struct {
		TS time.Time `json:"ts"`
	}
	if err := json.Unmarshal(data, &partial); err == nil && !partial.TS.IsZero() {
		return partial.TS
	}
	return time.Time{}
}
