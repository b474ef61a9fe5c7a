package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"

	"crypto-systemv1/internal/config"
	"crypto-systemv1/internal/marketdata/agg"
	"crypto-systemv1/internal/marketdata/bus"
	"crypto-systemv1/internal/marketdata/feedwatch"
	"crypto-systemv1/internal/marketdata/tfbuilder"
	"crypto-systemv1/internal/marketdata/ws"
	"crypto-systemv1/internal/marketdata/wssim"
	"crypto-systemv1/internal/metrics"
	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/notification"
	"crypto-systemv1/internal/ringbuf"
	"crypto-systemv1/internal/session"
	redisstore "crypto-systemv1/internal/store/redis"
	sqlitestore "crypto-systemv1/internal/store/sqlite"
)

// pipeline owns every long-lived piece of the market data engine so the
// wiring phases below can hand state to each other without a forest of
// main-scoped locals.
type pipeline struct {
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	notifier notification.Notifier

	// Lock-free SPSC ring between the WS read loop and the aggregator.
	// The socket callback never blocks: a full ring drops the tick and
	// bumps the overflow counter instead.
	tickRing *ringbuf.Ring
	tickCh   chan model.Tick

	sqlWriter   *sqlitestore.Writer
	redisWriter *redisstore.Writer
	bufWriter   *redisstore.BufferedWriter

	watch *feedwatch.Watcher
}

func newPipeline(enabledTFs []int) *pipeline {
	p := &pipeline{
		prom:     metrics.NewMetrics(nil),
		health:   metrics.NewHealthStatus(),
		notifier: notification.FromEnv(os.Getenv),
		tickRing: ringbuf.New(config.GetEnvInt("TICK_RING_SIZE", 16384)),
		tickCh:   make(chan model.Tick, 10000),
	}
	p.health.SetEnabledTFs(enabledTFs)
	return p
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[mdengine] starting...")
	config.Load()

	stagingMode := strings.EqualFold(os.Getenv("STAGING_MODE"), "true")
	if stagingMode {
		log.Println("[mdengine] *** STAGING MODE — using tickserver WS instead of the exchange ***")
	}

	markets := config.ParseMarkets(config.GetEnv("MARKETS", "BINANCE:BTCUSDT"))
	enabledTFs := config.ParseTFs(config.GetEnv("ENABLED_TFS", "60,120,180,300"))
	log.Printf("[mdengine] markets: %v", markets)
	log.Printf("[mdengine] enabled TFs: %v seconds", enabledTFs)

	p := newPipeline(enabledTFs)

	metricsSrv := metrics.NewServer(config.GetEnv("METRICS_ADDR", ":9091"), p.health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	p.openStores(ctx)
	defer p.sqlWriter.Close()

	p.startCandleFlow(ctx, enabledTFs)
	p.startWatchdog(ctx)
	p.startTickSource(ctx, stagingMode, markets, enabledTFs)

	go p.watch.Run(ctx)
	log.Printf("[mdengine] %s", session.StatusString(time.Now()))

	<-sigCh
	log.Println("[mdengine] shutdown signal received, cleaning up...")
	cancel()

	// Give goroutines time to flush buffers.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if p.bufWriter != nil {
		if n := p.bufWriter.PendingCount(); n > 0 {
			log.Printf("[mdengine] %d buffered redis writes lost on shutdown", n)
		}
	}
	if p.redisWriter != nil {
		p.redisWriter.Close()
	}

	log.Println("[mdengine] shutdown complete.")
}

// openStores connects SQLite (required) and Redis (optional). Losing Redis
// degrades the service — no PubSub, no streams — but never kills it.
func (p *pipeline) openStores(ctx context.Context) {
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: config.GetEnv("SQLITE_PATH", "data/candles.db")})
	if err != nil {
		log.Fatalf("[mdengine] sqlite init failed: %v", err)
	}
	sqlWriter.OnCommit = func(rows int, d time.Duration) {
		p.prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	p.sqlWriter = sqlWriter
	p.health.SetSQLiteOK(true)
	log.Println("[mdengine] sqlite writer ready")

	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	})
	if err != nil {
		log.Printf("[mdengine] WARNING: redis init failed: %v (continuing without redis)", err)
		p.health.SetRedisConnected(false)
	} else {
		p.redisWriter = redisWriter
		p.health.SetRedisConnected(true)
		redisWriter.OnWrite = func(d time.Duration) {
			p.prom.RedisWriteDur.Observe(d.Seconds())
		}
		p.armBreaker(ctx, redisWriter)
		log.Println("[mdengine] redis writer ready (circuit breaker armed)")
	}

	var pingClient *redis.Client
	if p.redisWriter != nil {
		pingClient = p.redisWriter.Client()
	}
	p.health.StartLivenessChecker(ctx, pingClient, p.sqlWriter.DB(), 10*time.Second)
}

// armBreaker puts the circuit breaker and the local write buffer in front
// of the Redis writer.
func (p *pipeline) armBreaker(ctx context.Context, w *redisstore.Writer) {
	cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[mdengine] redis circuit breaker: %s → %s", from, to)
		switch to {
		case redisstore.StateOpen:
			p.prom.RedisCircuitBreakerState.Set(1)
			p.prom.RedisCircuitBreakerTrips.Inc()
			p.notifier.Send(ctx, notification.Alert{
				Level:   notification.AlertWarning,
				Title:   "Redis circuit breaker open",
				Message: "candle writes are buffering locally until Redis recovers",
			})
		case redisstore.StateHalfOpen:
			p.prom.RedisCircuitBreakerState.Set(2)
		case redisstore.StateClosed:
			p.prom.RedisCircuitBreakerState.Set(0)
		}
	}

	p.bufWriter = redisstore.NewBufferedWriter(ctx, w, cb, 10000)
	p.bufWriter.OnBuffer = func() {
		p.prom.RedisBufferedWrites.Inc()
	}
	p.bufWriter.OnFlush = func(count int) {
		log.Printf("[mdengine] redis recovered, flushed %d buffered writes", count)
	}
}

// startCandleFlow wires tick → 1s candle → TF candle → stores. The compute
// path and the store writers never share a channel, so a slow store cannot
// stall candle building.
func (p *pipeline) startCandleFlow(ctx context.Context, enabledTFs []int) {
	candleCh := make(chan model.Candle, 5000)
	tfCandleCh := make(chan model.TFCandle, 5000)

	// Fan-out for 1s candles: SQLite always, Redis when available.
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		p.prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	sqliteCandleCh := fanout.Subscribe()
	var redis1sCandleCh <-chan model.Candle
	if p.bufWriter != nil {
		redis1sCandleCh = fanout.Subscribe()
	}
	tfBuilderIn := fanout.Subscribe()

	go fanout.Run(ctx, candleCh)
	go watchSaturation(ctx, p.prom, fanout, p.tickRing)

	go p.sqlWriter.Run(ctx, sqliteCandleCh)
	if p.bufWriter != nil && redis1sCandleCh != nil {
		go forwardCandles(ctx, redis1sCandleCh, p.bufWriter.WriteCandle)
	}

	// TF builder, hot path.
	tfBuilder := tfbuilder.New(enabledTFs)
	tfBuilder.OnTFCandle = func(c model.TFCandle) {
		p.prom.TFCandlesTotal.WithLabelValues(strconv.Itoa(c.TF)).Inc()
	}
	tfBuilder.OnStaleCandle = func() {
		p.prom.StaleCandlesRejected.Inc()
	}
	p.health.SetTFBuilderOK(true)
	log.Printf("[mdengine] TF builder started with TFs=%v (stale tolerance=%v)", enabledTFs, tfBuilder.StaleTolerance)
	go p.pumpTFBuilder(ctx, tfBuilder, tfBuilderIn, tfCandleCh)

	// TF candles fan out to the stores off the hot path. Confirmed
	// candles go through the circuit breaker; forming candles are
	// live-only PubSub and stale by the time any buffered replay could
	// flush, so they bypass it.
	redisTFCandleCh := make(chan model.TFCandle, 5000)
	sqliteTFCandleCh := make(chan model.TFCandle, 5000)
	redisFormingCh := make(chan model.TFCandle, 5000)
	go routeTFCandles(ctx, tfCandleCh, redisFormingCh, redisTFCandleCh, sqliteTFCandleCh)
	if p.bufWriter != nil {
		go forwardTFCandles(ctx, redisTFCandleCh, p.bufWriter.WriteTFCandle)
		go p.redisWriter.RunFormingTFCandles(ctx, redisFormingCh)
	}
	go p.sqlWriter.RunTFCandles(ctx, sqliteTFCandleCh)

	// 1s OHLC aggregator.
	aggregator := agg.New()
	aggregator.OnDroppedTick = func() {
		p.prom.DroppedTicks.Inc()
	}
	aggregator.OnCandle = func(c model.Candle) {
		p.prom.CandlesTotal.Inc()
		p.prom.CandleLag.Set(time.Since(c.TS).Seconds())
	}
	go aggregator.Run(ctx, p.tickCh, candleCh)
}

// pumpTFBuilder feeds 1s candles through the TF builder, timing each pass.
func (p *pipeline) pumpTFBuilder(ctx context.Context, builder *tfbuilder.Builder, in <-chan model.Candle, out chan<- model.TFCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			start := time.Now()
			builder.Run1(c, out)
			p.prom.TFBuildDur.Observe(time.Since(start).Seconds())
		}
	}
}

// startWatchdog arms the quiet-feed detector plus the ring drain that
// feeds it tick observations.
func (p *pipeline) startWatchdog(ctx context.Context) {
	watch := feedwatch.New()
	watch.QuietAfter = time.Duration(config.GetEnvInt("FEED_QUIET_AFTER_SEC", 30)) * time.Second
	watch.OnQuiet = func(silence time.Duration) {
		p.prom.FeedState.Set(0)
		p.prom.FeedTransitions.WithLabelValues("quiet").Inc()
		p.health.SetWSConnected(false)
		p.notifier.Send(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "Feed quiet",
			Message: fmt.Sprintf("no ticks for %s on a market that never closes", silence.Round(time.Second)),
		})
	}
	watch.OnResume = func(outage time.Duration) {
		p.prom.FeedState.Set(1)
		p.prom.FeedTransitions.WithLabelValues("resume").Inc()
		p.health.SetWSConnected(true)
		p.notifier.Send(ctx, notification.Alert{
			Level:   notification.AlertInfo,
			Title:   "Feed resumed",
			Message: fmt.Sprintf("ticks flowing again after %s outage", outage.Round(time.Second)),
		})
	}
	p.watch = watch

	go drainRing(ctx, p.tickRing, p.tickCh, p.prom, watch)
	go mirrorLastTick(ctx, watch, p.health)
	log.Println("[mdengine] pipeline ready (24/7)")
}

func (p *pipeline) countReconnect() {
	p.prom.WSReconnects.Inc()
	p.prom.FeedTransitions.WithLabelValues("ws_disconnect").Inc()
}

// startTickSource connects either the exchange WS or the staging tick
// server, per STAGING_MODE.
func (p *pipeline) startTickSource(ctx context.Context, staging bool, markets []string, tfs []int) {
	if staging {
		p.startSimSource(ctx, tfs)
		return
	}

	ingest, err := ws.New(ws.IngestConfig{Markets: markets})
	if err != nil {
		log.Fatalf("[mdengine] ws init failed: %v", err)
	}
	ingest.OnReconnect = p.countReconnect

	// A quiet feed on a live connection means a half-dead socket:
	// bounce it so the retry loop reconnects and resubscribes.
	prevQuiet := p.watch.OnQuiet
	p.watch.OnQuiet = func(silence time.Duration) {
		prevQuiet(silence)
		log.Println("[mdengine] 🔌 bouncing WS after quiet period")
		ingest.ForceReconnect()
	}

	p.health.SetWSConnected(true)
	p.prom.FeedState.Set(1)

	go func() {
		if err := ingest.Start(ctx, p.tickRing); err != nil {
			log.Printf("[mdengine] ws session ended: %v", err)
			p.health.SetWSConnected(false)
		}
	}()

	printBanner(false, tfs, markets, "")
}

func (p *pipeline) startSimSource(ctx context.Context, tfs []int) {
	simWSURL := config.GetEnv("SIM_WS_URL", "ws://localhost:9001/ws")
	log.Printf("[mdengine] staging tick source: %s", simWSURL)

	ingest, err := wssim.New(wssim.Config{
		URL:               simWSURL,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("[mdengine] wssim init failed: %v", err)
	}
	ingest.OnReconnect = p.countReconnect
	p.health.SetWSConnected(true)
	p.prom.FeedState.Set(1)

	go func() {
		if err := ingest.Start(ctx, p.tickRing); err != nil {
			log.Printf("[mdengine] wssim error: %v", err)
			p.health.SetWSConnected(false)
		}
	}()

	printBanner(true, tfs, nil, simWSURL)
}

// forwardCandles drains in and hands each 1s candle to write.
func forwardCandles(ctx context.Context, in <-chan model.Candle, write func(model.Candle) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			write(c)
		}
	}
}

// forwardTFCandles drains in and hands each TF candle to write.
func forwardTFCandles(ctx context.Context, in <-chan model.TFCandle, write func(model.TFCandle) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-in:
			if !ok {
				return
			}
			write(tfc)
		}
	}
}

// routeTFCandles splits the TF builder output: forming candles to the
// live-only channel, sealed candles to both stores. Every send is
// nonblocking so the builder can never be back-pressured from here.
func routeTFCandles(ctx context.Context, in <-chan model.TFCandle, formingCh, redisCh, sqliteCh chan<- model.TFCandle) {
	trySend := func(ch chan<- model.TFCandle, tfc model.TFCandle) {
		select {
		case ch <- tfc:
		default:
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-in:
			if !ok {
				return
			}
			if tfc.Forming {
				trySend(formingCh, tfc)
				continue
			}
			trySend(redisCh, tfc)
			trySend(sqliteCh, tfc)
		}
	}
}

// drainRing moves ticks from the SPSC ring onto tickCh, counting and
// feeding the watchdog. Empty ring backs off briefly instead of spinning.
func drainRing(ctx context.Context, ring *ringbuf.Ring, tickCh chan<- model.Tick, prom *metrics.Metrics, watch *feedwatch.Watcher) {
	for ctx.Err() == nil {
		tk, ok := ring.Pop()
		if !ok {
			time.Sleep(200 * time.Microsecond)
			continue
		}
		prom.TicksTotal.Inc()
		watch.Observe(time.Now())
		select {
		case tickCh <- tk:
		default:
			prom.DroppedTicks.Inc()
		}
	}
}

// watchSaturation samples channel and ring fill levels every 5s for the
// saturation gauges, and folds ring overflow into its counter.
func watchSaturation(ctx context.Context, prom *metrics.Metrics, fanout *bus.FanOut, ring *ringbuf.Ring) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var lastOverflow uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
				}
			}
			prom.ChannelSaturationPct.WithLabelValues("tick_ring").Set(
				float64(ring.Len()) / float64(ring.Cap()) * 100)
			if ov := ring.Overflow(); ov > lastOverflow {
				prom.RingBufOverflow.Add(float64(ov - lastOverflow))
				lastOverflow = ov
			}
		}
	}
}

// mirrorLastTick surfaces the watchdog's last-tick time on /healthz every
// couple seconds, so the hot path never takes the health lock.
func mirrorLastTick(ctx context.Context, watch *feedwatch.Watcher, health *metrics.HealthStatus) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lt := watch.LastTick(); !lt.IsZero() {
				health.SetLastTickTime(lt)
			}
		}
	}
}

// printBanner draws the startup box for either mode.
func printBanner(staging bool, tfs []int, markets []string, source string) {
	title := "Market Data Engine — Live Mode"
	pipe := "[Exchange WS] → [Ring] → [1s Agg] → [TF Builder] → [Stores]"
	detail := fmt.Sprintf("Markets: %v", markets)
	note := "Feed runs 24/7 — watchdog bounces silent connections"
	if staging {
		title = "Market Data Engine — STAGING MODE"
		pipe = "[TickServer WS] → [Ring] → [1s Agg] → [TF Builder] → [Stores]"
		detail = "Source: " + source
		note = "No exchange connectivity required"
	}

	log.Println("[mdengine] ╔════════════════════════════════════════════════════════════════╗")
	for _, ln := range []string{title, pipe, fmt.Sprintf("TFs: %v", tfs), detail, note} {
		log.Printf("[mdengine] ║  %-60s  ║", ln)
	}
	log.Println("[mdengine] ╚════════════════════════════════════════════════════════════════╝")
}
