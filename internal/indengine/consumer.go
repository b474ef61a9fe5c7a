package indengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"crypto-systemv1/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.consumer.ConsumeTFCandles(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.consumer.StartPELReclaimer(ctx, svc.streams,
		svc.cfg.ConsumerGroup, svc.cfg.ConsumerName,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.tfCandleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[indengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[indengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

const (
	latencyKey        = "metrics:indengine:indicator_compute_ms"
	latencyTTL        = 30 * time.Second
	latencyPublishGap = 2 * time.Second
	latencyAlpha      = 0.2
)

// latencyReporter smooths compute latency into an EWMA and publishes it
// to Redis at a bounded rate for the gateway's metrics endpoint.
type latencyReporter struct {
	ewmaMs    float64
	published time.Time
}

func (lr *latencyReporter) observe(ms float64) {
	if lr.ewmaMs == 0 {
		lr.ewmaMs = ms
		return
	}
	lr.ewmaMs = lr.ewmaMs*(1.0-latencyAlpha) + ms*latencyAlpha
}

func (lr *latencyReporter) maybePublish(ctx context.Context, svc *Service) {
	if time.Since(lr.published) < latencyPublishGap {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if cctx.Err() == nil {
		_ = svc.redisWriter.Client().Set(cctx, latencyKey, fmt.Sprintf("%.3f", lr.ewmaMs), latencyTTL).Err()
	}
	lr.published = time.Now()
}

// computeOne runs the engine over one candle and records timing. Forming
// candles go through the peek path, which never mutates indicator state.
func (svc *Service) computeOne(tfc model.TFCandle) ([]model.IndicatorResult, time.Duration) {
	start := time.Now()
	var results []model.IndicatorResult
	if tfc.Forming {
		results = svc.engine.ProcessPeek(tfc)
	} else {
		results = svc.engine.Process(tfc)
	}
	elapsed := time.Since(start)

	svc.prom.IndicatorComputeDur.Observe(elapsed.Seconds())
	if len(results) > 0 {
		svc.prom.IndicatorsTotal.Add(float64(len(results)))
	}
	return results, elapsed
}

// teeToStrategy forwards closed strategy-TF candles to the trading loop
// without ever blocking the indicator hot path.
func (svc *Service) teeToStrategy(tfc model.TFCandle) {
	if svc.stratCh == nil || tfc.Forming || tfc.TF != svc.cfg.StrategyTF {
		return
	}
	select {
	case svc.stratCh <- tfc:
	default:
	}
}

// processLoop consumes TF candles from the channel, computes indicators,
// and flushes each result set in a single Redis pipeline.
func (svc *Service) processLoop(ctx context.Context) {
	var lat latencyReporter

	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-svc.tfCandleCh:
			if !ok {
				return
			}

			results, elapsed := svc.computeOne(tfc)

			lat.observe(float64(elapsed.Microseconds()) / 1000.0)
			lat.maybePublish(ctx, svc)

			if len(results) > 0 {
				svc.redisWriter.WriteIndicatorBatch(ctx, results)
			}
			svc.teeToStrategy(tfc)
		}
	}
}

// peekLoop subscribes to 1s candle PubSub for live indicator previews.
func (svc *Service) peekLoop(ctx context.Context) {
	if err := svc.redisReader.Subscribe1sForPeek(ctx, svc.cfg.EnabledTFs, svc.tfCandleCh); err != nil {
		log.Printf("[indengine] 1s peek subscription error: %v", err)
	}
}
