package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"crypto-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// 1s stream keeps ~3h plus slack.
	stream1sMaxLen   = 12000
	defaultLatestTTL = 30 * time.Minute
)

// tfMaxLen sizes a TF stream to roughly 3h of bars, with a floor so
// sparse high TFs still keep a usable history.
func tfMaxLen(tf int) int64 {
	n := int64(10800/tf) + 100
	if n < 200 {
		return 200
	}
	return n
}

// WriterConfig configures the publishing side of the Redis store.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes candles, TF candles, and indicator results. Every
// durable write is a pipelined XADD + SET latest + PUBLISH so consumers
// can pick whichever access pattern they need.
type Writer struct {
	client *goredis.Client

	// OnWrite receives each pipeline round-trip duration (metrics hook).
	OnWrite func(d time.Duration)
}

// Client exposes the underlying client for health probes.
func (w *Writer) Client() *goredis.Client { return w.client }

// dial opens a client against addr and verifies it with a short ping.
func dial(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// New connects and pings.
func New(cfg WriterConfig) (*Writer, error) {
	client, err := dial(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// asString reinterprets a JSON buffer as string without copying. Safe
// here: the model JSON helpers hand over a fresh buffer nobody mutates
// afterward.
func asString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// persistTriple stages the durable write pattern on a pipeline: stream
// append with retention cap, latest-key refresh, PubSub fanout.
func persistTriple(ctx context.Context, pipe goredis.Pipeliner, stream string, maxLen int64, latestKey, channel, payload string) {
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Set(ctx, latestKey, payload, defaultLatestTTL)
	pipe.Publish(ctx, channel, payload)
}

// execTimed runs the pipeline, logging failures under label and feeding
// the round trip to OnWrite.
func (w *Writer) execTimed(ctx context.Context, pipe goredis.Pipeliner, start time.Time, label string) error {
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] %s: %v", label, err)
	}
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
	return err
}

// drain pumps every item off ch through write until ctx ends or the
// channel closes.
func drain[T any](ctx context.Context, ch <-chan T, write func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			write(v)
		}
	}
}

// Run drains 1s candles from candleCh into Redis until ctx is cancelled
// or the channel closes.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	drain(ctx, candleCh, func(c model.Candle) { w.writeCandle(ctx, c) })
}

// RunTFCandles drains closed TF candles into their streams.
func (w *Writer) RunTFCandles(ctx context.Context, tfCandleCh <-chan model.TFCandle) {
	drain(ctx, tfCandleCh, func(tfc model.TFCandle) { w.writeTFCandle(ctx, tfc) })
}

// RunFormingTFCandles publishes forming candles on PubSub only. They
// are previews; nothing durable should record them.
func (w *Writer) RunFormingTFCandles(ctx context.Context, ch <-chan model.TFCandle) {
	drain(ctx, ch, func(tfc model.TFCandle) {
		w.client.Publish(ctx, tfc.PubSubChannel(), asString(tfc.JSON()))
	})
}

// RunIndicators drains indicator results into their streams.
func (w *Writer) RunIndicators(ctx context.Context, indCh <-chan model.IndicatorResult) {
	drain(ctx, indCh, func(ind model.IndicatorResult) { w.writeIndicator(ctx, ind) })
}

// queueIndicator stages one result on the pipeline. Live previews ride
// PubSub alone; confirmed values get the durable triple.
func queueIndicator(ctx context.Context, pipe goredis.Pipeliner, ind *model.IndicatorResult) {
	payload := asString(ind.JSON())
	if ind.Live {
		pipe.Publish(ctx, ind.PubSubChannel(), payload)
		return
	}
	persistTriple(ctx, pipe, ind.StreamKey(), tfMaxLen(ind.TF), ind.LatestKey(), ind.PubSubChannel(), payload)
}

// WriteIndicatorBatch flushes a whole result set in one pipeline: one
// network round trip covering every confirmed and live result.
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}

	start := time.Now()
	pipe := w.client.Pipeline()
	for i := range results {
		if ind := &results[i]; ind.Ready || ind.Live {
			queueIndicator(ctx, pipe, ind)
		}
	}
	w.execTimed(ctx, pipe, start, fmt.Sprintf("indicator batch pipeline (%d results)", len(results)))
}

// PublishFormingBatch publishes a batch of forming candles in one
// pipeline.
func (w *Writer) PublishFormingBatch(ctx context.Context, candles []model.TFCandle) {
	if len(candles) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range candles {
		pipe.Publish(ctx, candles[i].PubSubChannel(), asString(candles[i].JSON()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] forming batch pipeline (%d candles): %v", len(candles), err)
	}
}

// atoiDigits folds the digits of s into an int, ignoring everything else.
func atoiDigits(s string) int {
	n := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
		}
	}
	return n
}

// LoadTFRegistry reads the tf:enabled set. Empty result when the key
// was never written.
func (w *Writer) LoadTFRegistry(ctx context.Context) ([]int, error) {
	members, err := w.client.SMembers(ctx, "tf:enabled").Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis SMEMBERS tf:enabled: %w", err)
	}

	out := make([]int, 0, len(members))
	for _, m := range members {
		if n := atoiDigits(m); n > 0 {
			out = append(out, n)
		}
	}
	return out, nil
}

// writeCandle pushes one 1s candle: stream entry, latest key, PubSub.
// The error comes back to the caller so the circuit breaker can count it.
func (w *Writer) writeCandle(ctx context.Context, candle model.Candle) error {
	mk := candle.Exchange + ":" + candle.Symbol
	payload := string(candle.JSON())

	start := time.Now()
	pipe := w.client.Pipeline()
	persistTriple(ctx, pipe, "candle:1s:"+mk, stream1sMaxLen, "candle:1s:latest:"+mk, "pub:candle:1s:"+mk, payload)
	return w.execTimed(ctx, pipe, start, "1s pipeline for "+candle.Key())
}

// writeTFCandle pushes one closed TF candle. Same error contract as
// writeCandle.
func (w *Writer) writeTFCandle(ctx context.Context, tfc model.TFCandle) error {
	payload := string(tfc.JSON())
	latestKey := "candle:" + model.Itoa(tfc.TF) + "s:latest:" + tfc.Exchange + ":" + tfc.Symbol

	start := time.Now()
	pipe := w.client.Pipeline()
	persistTriple(ctx, pipe, tfc.StreamKey(), tfMaxLen(tfc.TF), latestKey, tfc.PubSubChannel(), payload)
	return w.execTimed(ctx, pipe, start, "TF pipeline for "+tfc.Key())
}

// writeIndicator pushes one indicator result. Live previews skip the
// pipeline entirely and go straight to PubSub.
func (w *Writer) writeIndicator(ctx context.Context, ind model.IndicatorResult) {
	switch {
	case !ind.Ready && !ind.Live:
		return
	case ind.Live:
		w.client.Publish(ctx, ind.PubSubChannel(), asString(ind.JSON()))
		return
	}

	start := time.Now()
	pipe := w.client.Pipeline()
	persistTriple(ctx, pipe, ind.StreamKey(), tfMaxLen(ind.TF), ind.LatestKey(), ind.PubSubChannel(), asString(ind.JSON()))
	w.execTimed(ctx, pipe, start, "indicator pipeline for "+ind.Name)
}

// Close closes the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
