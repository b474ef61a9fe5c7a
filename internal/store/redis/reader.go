package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the consuming side of the Redis store.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // e.g. "indengine"
	ConsumerName  string // unique per process, e.g. hostname
}

// Reader is the consumer-group view of the candle streams plus the
// engine-snapshot keys. One Reader per service process.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// NewReader connects, pings, and fills in group/consumer defaults.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client, err := dial(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}

	group := orDefault(cfg.ConsumerGroup, "indengine")
	consumer := orDefault(cfg.ConsumerName, "worker-1")

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{client: client, consumerGroup: group, consumerName: consumer}, nil
}

// decodeTF pulls the candle JSON out of a stream entry. ok=false means the
// entry carries nothing usable and should be acked away so it cannot wedge
// the PEL forever.
func decodeTF(msg goredis.XMessage) (model.TFCandle, bool) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return model.TFCandle{}, false
	}
	var tfc model.TFCandle
	if err := json.Unmarshal([]byte(raw), &tfc); err != nil {
		return model.TFCandle{}, false
	}
	return tfc, true
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// EnsureConsumerGroup creates the group on each stream if missing. New groups
// start at "$": only entries written after creation are delivered.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom creates (or repositions) the group at startID.
// The restore path uses this to resume delivery right after the last
// snapshotted stream entry.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
	if err == nil {
		return nil
	}
	if isBusyGroup(err) {
		return r.client.XGroupSetID(ctx, stream, r.consumerGroup, startID).Err()
	}
	return fmt.Errorf("xgroup create from %s at %s: %w", stream, startID, err)
}

// forwardAndAck decodes stream entries, hands each candle downstream, and
// acks it only after the hand-over. Undecodable entries are logged and
// acked away. Returns how many candles were forwarded.
func (r *Reader) forwardAndAck(ctx context.Context, stream, group string, msgs []goredis.XMessage, out chan<- model.TFCandle) (int, error) {
	forwarded := 0
	for _, msg := range msgs {
		tfc, ok := decodeTF(msg)
		if !ok {
			log.Printf("[redis-reader] acking undecodable entry %s on %s", msg.ID, stream)
			r.client.XAck(ctx, stream, group, msg.ID)
			continue
		}

		select {
		case out <- tfc:
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}

		r.client.XAck(ctx, stream, group, msg.ID)
		forwarded++
	}
	return forwarded, nil
}

// xreadCursors builds the XREADGROUP stream argument list: the stream names
// followed by an equal number of ">" markers.
func xreadCursors(streams []string) []string {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}
	return args
}

// ConsumeTFCandles blocks on XREADGROUP across the given streams and pushes
// decoded candles to out, acking each entry after it has been handed over.
// Runs until ctx is cancelled.
func (r *Reader) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	cursors := xreadCursors(streams)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batches, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  cursors,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, batch := range batches {
			if _, err := r.forwardAndAck(ctx, batch.Stream, r.consumerGroup, batch.Messages, out); err != nil {
				return err
			}
		}
	}
}

// pendingEntries lists up to count PEL entries for a group, optionally
// filtered to those idle at least minIdle.
func (r *Reader) pendingEntries(ctx context.Context, stream, group string, count int64, minIdle time.Duration) ([]goredis.XPendingExt, error) {
	return r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
}

// claim moves PEL entries to consumer. A non-zero minIdle makes the claim
// conditional: an entry touched in the meantime is skipped rather than
// double-claimed.
func (r *Reader) claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]goredis.XMessage, error) {
	return r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

func pendingIDs(entries []goredis.XPendingExt) []string {
	out := make([]string, 0, len(entries))
	for _, p := range entries {
		out = append(out, p.ID)
	}
	return out
}

// idsNotOwnedBy picks the IDs of PEL entries held by some other consumer.
func idsNotOwnedBy(entries []goredis.XPendingExt, own string) []string {
	var out []string
	for _, p := range entries {
		if p.Consumer != own {
			out = append(out, p.ID)
		}
	}
	return out
}

// RecoverPending drains this consumer's own PEL left over from a crash,
// re-delivering the entries before normal consumption starts. Gives the
// pipeline at-least-once semantics across restarts.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	for _, stream := range streams {
		for {
			pending, err := r.pendingEntries(ctx, stream, r.consumerGroup, 100, 0)
			if err != nil || len(pending) == 0 {
				break
			}

			ids := pendingIDs(pending)
			claimed, err := r.claim(ctx, stream, r.consumerGroup, r.consumerName, 0, ids)
			if err != nil {
				log.Printf("[redis-reader] xclaim on %s: %v", stream, err)
				break
			}

			if _, err := r.forwardAndAck(ctx, stream, r.consumerGroup, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStaleMessages steals PEL entries that have sat idle past minIdleMs
// with some OTHER consumer in the group, claiming them for this one. That is
// how work abandoned by a dead worker gets picked back up.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream, group, consumer string, minIdleMs int64, batchSize int64) ([]goredis.XMessage, error) {
	idle := time.Duration(minIdleMs) * time.Millisecond
	pending, err := r.pendingEntries(ctx, stream, group, batchSize, idle)
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	staleIDs := idsNotOwnedBy(pending, consumer)
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.claim(ctx, stream, group, consumer, idle, staleIDs)
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}

	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer periodically sweeps every stream for stale PEL entries,
// claims them, and feeds the decoded candles to outCh for reprocessing.
// onReclaim (optional) gets the per-sweep total for metrics.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, group, consumer string, interval time.Duration, minIdleMs int64, outCh chan<- model.TFCandle, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, group, consumer, minIdleMs, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL sweep on %s: %v", stream, err)
					continue
				}
				n, err := r.forwardAndAck(ctx, stream, group, claimed, outCh)
				swept += n
				if err != nil {
					return
				}
			}
			if swept > 0 && onReclaim != nil {
				onReclaim(swept)
			}
		}
	}
}

// ReadSnapshot loads the engine snapshot stored under snapshotKey.
// Returns (nil, nil) when none exists yet.
func (r *Reader) ReadSnapshot(ctx context.Context, snapshotKey string) (*indicator.EngineSnapshot, error) {
	raw, err := r.client.Get(ctx, snapshotKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", snapshotKey, err)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// WriteSnapshot stores the engine snapshot under snapshotKey with a 24h TTL.
// Redis is the fast restore path; SQLite holds the durable copies.
func (r *Reader) WriteSnapshot(ctx context.Context, snapshotKey string, snap *indicator.EngineSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.client.Set(ctx, snapshotKey, string(raw), 24*time.Hour).Err()
}

// ReplayFromID walks a stream from just after startID to its current end,
// pushing every decoded candle to out. Returns the last ID seen so the
// caller can position the consumer group there.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error) {
	cursor := startID
	for {
		// "(" makes the range exclusive of cursor.
		entries, err := r.client.XRange(ctx, stream, "("+cursor, "+").Result()
		if err != nil {
			return cursor, fmt.Errorf("xrange %s from %s: %w", stream, cursor, err)
		}
		if len(entries) == 0 {
			break
		}

		for _, msg := range entries {
			tfc, ok := decodeTF(msg)
			if !ok {
				cursor = msg.ID
				continue
			}
			select {
			case out <- tfc:
			case <-ctx.Done():
				return cursor, ctx.Err()
			}
			cursor = msg.ID
		}

		if len(entries) < 1000 {
			break
		}
	}
	return cursor, nil
}

// DiscoverTFStreams probes which candle:TFs:EXCHANGE:SYMBOL streams actually
// exist for the configured TF set and market keys. Markets that have never
// traded produce no stream and are silently skipped.
func (r *Reader) DiscoverTFStreams(ctx context.Context, tfs []int, marketKeys []string) []string {
	var found []string
	for _, tf := range tfs {
		for _, key := range marketKeys {
			stream := fmt.Sprintf("candle:%ds:%s", tf, key)
			exists, err := r.client.Exists(ctx, stream).Result()
			if err == nil && exists > 0 {
				found = append(found, stream)
			}
		}
	}
	return found
}

// drainPattern pumps every payload arriving on a pattern subscription through
// handle until ctx ends or the feed closes.
func (r *Reader) drainPattern(ctx context.Context, pattern string, handle func(payload string)) error {
	pubsub := r.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle(msg.Payload)
		}
	}
}

// SubscribeFormingCandles listens on the pub:candle:* pattern and forwards
// forming TF candles to out. Completed candles arrive via the consumer group
// and are filtered out here so nothing is double-processed.
func (r *Reader) SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error {
	return r.drainPattern(ctx, "pub:candle:*", func(payload string) {
		var tfc model.TFCandle
		if err := json.Unmarshal([]byte(payload), &tfc); err != nil {
			return
		}
		if !tfc.Forming {
			return
		}
		select {
		case out <- tfc:
		default:
		}
	})
}

// decode1s accepts either a Candle payload or a TFCandle payload as long as
// the latter is the 1s timeframe.
func decode1s(payload []byte) (model.Candle, bool) {
	var c model.Candle
	if err := json.Unmarshal(payload, &c); err == nil {
		return c, true
	}
	var tfc model.TFCandle
	if err := json.Unmarshal(payload, &tfc); err == nil && tfc.TF == 1 {
		return model.Candle{
			Symbol: tfc.Symbol, Exchange: tfc.Exchange,
			TS: tfc.TS, Open: tfc.Open, High: tfc.High,
			Low: tfc.Low, Close: tfc.Close, Volume: tfc.Volume,
		}, true
	}
	return model.Candle{}, false
}

// openBucket is the in-progress TF candle for one market.
type openBucket struct {
	start  int64
	candle model.TFCandle
}

func (b *openBucket) absorb(c model.Candle) {
	fc := &b.candle
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
	fc.Count++
}

// peekAggregator folds 1s candles into per-TF per-market open buckets and
// yields a Forming snapshot of each touched bucket.
type peekAggregator struct {
	tfs     []int
	buckets map[string]*openBucket
}

func newPeekAggregator(tfs []int) *peekAggregator {
	return &peekAggregator{tfs: tfs, buckets: map[string]*openBucket{}}
}

func (a *peekAggregator) update(c model.Candle) []model.TFCandle {
	ts := c.TS.Unix()
	snaps := make([]model.TFCandle, 0, len(a.tfs))
	for _, tf := range a.tfs {
		start := ts - ts%int64(tf)
		key := fmt.Sprintf("%d:%s:%s", tf, c.Exchange, c.Symbol)

		b, live := a.buckets[key]
		if live && start > b.start {
			// Rolled into a new bucket; the sealed candle arrives via the
			// stream consumer, not here.
			live = false
		}

		if !live {
			b = &openBucket{
				start: start,
				candle: model.TFCandle{
					Symbol: c.Symbol, Exchange: c.Exchange,
					TF: tf, TS: c.TS,
					Open: c.Open, High: c.High,
					Low: c.Low, Close: c.Close,
					Volume: c.Volume, Count: 1,
					Forming: true,
				},
			}
			a.buckets[key] = b
		} else {
			b.absorb(c)
		}

		snaps = append(snaps, b.candle)
	}
	return snaps
}

// Subscribe1sForPeek turns the 1s candle feed into forming TF candles: a
// small in-memory aggregator tracks the open bucket per TF per market and
// emits a Forming=true snapshot on every 1s update. This powers live
// ProcessPeek without requiring mdengine to publish forming TF candles.
func (r *Reader) Subscribe1sForPeek(ctx context.Context, tfs []int, out chan<- model.TFCandle) error {
	agg := newPeekAggregator(tfs)
	return r.drainPattern(ctx, "pub:candle:1s:*", func(payload string) {
		c, ok := decode1s([]byte(payload))
		if !ok {
			return
		}
		for _, snap := range agg.update(c) {
			select {
			case out <- snap:
			default:
			}
		}
	})
}

// SubscribeChannel subscribes to one Pub/Sub channel and confirms the
// subscription before returning the handle. Nil on failure.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish sends a message on a Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the underlying client.
func (r *Reader) Close() error {
	return r.client.Close()
}
