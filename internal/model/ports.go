package model

import (
	"context"
	"time"
)

// ── Store and feed ports ──
// The concrete stores (Redis, SQLite) plug in behind these. Services hold
// the interface; wiring in cmd/ picks the implementation.

// CandleWriter drains candle channels into a store.
type CandleWriter interface {
	// Run persists 1s candles off candleCh until ctx ends or the channel
	// closes.
	Run(ctx context.Context, candleCh <-chan Candle)

	// RunTFCandles does the same for resampled TF candles.
	RunTFCandles(ctx context.Context, tfCandleCh <-chan TFCandle)

	Close() error
}

// CandleReader serves TF candle history for backfill and replay.
type CandleReader interface {
	// ReadTFCandles returns one market's candles at the given TF, newest
	// after afterTS.
	ReadTFCandles(exchange, symbol string, tf int, afterTS int64) ([]TFCandle, error)

	// ReadAllTFCandles returns every market's candles at the given TF.
	ReadAllTFCandles(tf int, afterTS int64) ([]TFCandle, error)

	Close() error
}

// IndicatorWriter persists computed indicator values.
type IndicatorWriter interface {
	// WriteIndicatorBatch lands a compute pass's results in one batch.
	WriteIndicatorBatch(ctx context.Context, results []IndicatorResult)

	Close() error
}

// IndicatorReader reads indicator data back out of a store.
type IndicatorReader interface {
	Close() error
}

// SnapshotStore round-trips indicator engine checkpoints as raw JSON.
// []byte keeps model free of an indicator import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON stores one JSON-encoded engine checkpoint.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the newest snapshot, or nil, nil when
	// none has been written yet.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// TickSink accepts ticks from a feed. Push must not block: it reports
// whether the tick was accepted (false means dropped on overflow).
// ringbuf.Ring satisfies this directly.
type TickSink interface {
	Push(Tick) bool
}

// ChanSink adapts a channel to TickSink with drop-on-full semantics.
type ChanSink chan<- Tick

func (c ChanSink) Push(t Tick) bool {
	select {
	case c <- t:
		return true
	default:
		return false
	}
}

// StreamConsumer pulls TF candles off a durable stream (Redis Streams in
// production).
type StreamConsumer interface {
	// ConsumeTFCandles tails the streams through a consumer group until
	// ctx ends.
	ConsumeTFCandles(ctx context.Context, streams []string, out chan<- TFCandle) error

	// RecoverPending re-delivers messages a crashed consumer never ACKed.
	RecoverPending(ctx context.Context, streams []string, out chan<- TFCandle) error

	// EnsureConsumerGroup creates the group on each stream if missing.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ReplayFromID re-reads a stream from startID forward.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- TFCandle) (string, error)

	// DiscoverTFStreams finds streams matching known TFs and symbols.
	DiscoverTFStreams(ctx context.Context, tfs []int, symbols []string) []string

	// StartPELReclaimer periodically claims PEL entries idle past
	// minIdleMs back into this consumer.
	StartPELReclaimer(ctx context.Context, streams []string, group, consumer string,
		interval time.Duration, minIdleMs int64, outCh chan<- TFCandle, onReclaim func(count int))

	Close() error
}
