package indengine

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"crypto-systemv1/internal/execution"
	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/metrics"
	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/notification"
	"crypto-systemv1/internal/portfolio"
	"crypto-systemv1/internal/session"
	redisstore "crypto-systemv1/internal/store/redis"
	sqlitestore "crypto-systemv1/internal/store/sqlite"
	"crypto-systemv1/internal/strategy"
	"crypto-systemv1/pkg/binance"
)

// Service is the top-level orchestrator for the indicator engine. It builds
// every dependency and owns startup order and shutdown.
//
// Stream consumption and snapshot durability go through the model port
// interfaces; the concrete Redis reader is still held for the PubSub and
// typed-snapshot surfaces the ports don't cover.
type Service struct {
	cfg Config

	engine      *indicator.Engine
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	consumer    model.StreamConsumer
	durable     model.SnapshotStore
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	rest        *binance.Client
	prom        *metrics.Metrics
	notifier    notification.Notifier

	streams    []string
	tfCandleCh chan model.TFCandle

	// Paper trading loop (nil unless cfg.StrategyEnabled).
	pf      *portfolio.Portfolio
	rm      *portfolio.RiskManager
	strat   *strategy.Engine
	exec    *execution.PaperExecutor
	stratCh chan model.TFCandle
}

// New connects the stores and prepares every subsystem short of starting
// goroutines; Run does the rest.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:        cfg,
		prom:       metrics.NewMetrics(nil),
		notifier:   notification.FromEnv(os.Getenv),
		tfCandleCh: make(chan model.TFCandle, 5000),
	}

	if err := svc.connectStores(); err != nil {
		return nil, err
	}

	if cfg.RESTBackfill {
		svc.rest = binance.NewClient(binance.Config{})
	}

	// The portfolio and risk manager always exist so the admin API can
	// serve risk status and sizing previews; the strategy loop itself
	// only runs when enabled.
	svc.pf = portfolio.New()
	svc.rm = portfolio.NewRiskManager(cfg.Sizing, cfg.Limits, svc.pf, cfg.InitialEquity)
	if cfg.StrategyEnabled {
		svc.setupTrading()
	}

	return svc, nil
}

// connectStores opens Redis (required) and SQLite (best-effort: the engine
// can run from Redis alone, it just loses durable snapshots and backfill).
func (svc *Service) connectStores() error {
	cfg := svc.cfg

	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return err
	}
	svc.consumer = svc.redisReader

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return err
	}

	os.MkdirAll("data", 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[indengine] WARNING: sqlite writer init failed: %v", err)
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[indengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
	}
	if svc.sqlWriter != nil {
		svc.durable = sqlitestore.SnapshotStore(svc.sqlWriter, svc.sqlReader)
	}
	return nil
}

// setupTrading wires the strategy engine and the paper executor on top of
// the portfolio and risk manager.
func (svc *Service) setupTrading() {
	cfg := svc.cfg

	svc.strat = strategy.NewEngine(256)
	svc.strat.AttachRisk(svc.rm, func() float64 {
		return cfg.InitialEquity + svc.rm.DailyPnL()
	})
	svc.strat.OnReject = func(sig strategy.Signal, reason string) {
		if reason == "max daily loss reached" {
			svc.notifier.Send(context.Background(), notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Daily loss limit hit",
				Message: "trading halted until the UTC daily reset",
			})
		}
	}

	ema, err := strategy.NewEMAThreshold(21, 0.005)
	if err == nil {
		svc.strat.Register(ema)
	}
	svc.strat.Register(strategy.NewSMACrossover(9, 21, true, 14))

	svc.exec = execution.NewPaperExecutor(256, cfg.SlippageBps)
	svc.exec.AttachPortfolio(svc.pf, svc.rm)
	if svc.sqlWriter != nil {
		svc.exec.AttachOrderSink(svc.sqlWriter)
		if j, err := execution.NewJournal(svc.sqlWriter.DB()); err == nil {
			svc.exec.AttachJournal(j)
		} else {
			log.Printf("[indengine] WARNING: trade journal init failed: %v", err)
		}
	}
	svc.exec.OnFill = func(f execution.Fill) {
		svc.prom.OrdersTotal.WithLabelValues(string(f.Signal.Action)).Inc()
		svc.prom.DailyPnL.Set(svc.rm.DailyPnL())
	}

	svc.stratCh = make(chan model.TFCandle, 1000)
	log.Printf("[indengine] paper trading enabled: tf=%ds equity=%.2f slippage=%.1fbps",
		cfg.StrategyTF, cfg.InitialEquity, cfg.SlippageBps)
}

// Run brings the engine current (snapshot restore, stream backfill, delta
// replay, pending recovery), starts every loop, and blocks until ctx is
// cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[indengine] starting Indicator Engine microservice...")

	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	svc.streams = svc.buildStreams(ctx)
	log.Printf("[indengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	svc.backfillFromRedis(ctx)
	svc.replayDelta(ctx)

	if len(svc.streams) > 0 {
		if err := svc.consumer.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[indengine] WARNING: consumer group setup: %v", err)
		}
		if err := svc.consumer.RecoverPending(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] pending recovery error: %v", err)
		}
	}

	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	go svc.peekLoop(ctx)
	go svc.snapshotLoop(ctx)
	svc.startTrading(ctx)
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)

	log.Println("[indengine] ╔════════════════════════════════════════════════════════╗")
	log.Println("[indengine] ║  Indicator Engine Active                               ║")
	log.Println("[indengine] ║  [Redis Streams] → [Indicators] → [Redis Publish]      ║")
	log.Println("[indengine] ╚════════════════════════════════════════════════════════╝")
	log.Printf("[indengine] tfs=%v checkpoint=%ds streams=%d", cfg.EnabledTFs, cfg.SnapshotIntervalS, len(svc.streams))
	log.Printf("[indengine] %s", session.StatusString(time.Now()))
	log.Println("[indengine] ✅ all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()

	svc.shutdown()
	return nil
}

// startTrading launches the strategy engine, the paper executor, and the
// UTC daily risk reset.
func (svc *Service) startTrading(ctx context.Context) {
	if svc.strat == nil {
		return
	}

	go svc.strat.Run(ctx, svc.stratCh)
	go svc.exec.Run(ctx, svc.strat.Signals())
	go session.RunDailyReset(ctx, func(boundary time.Time) {
		svc.rm.ResetDaily()
		svc.prom.DailyPnL.Set(0)
		svc.prom.FeedTransitions.WithLabelValues("daily_reset").Inc()
		log.Printf("[indengine] daily reset fired for %s", boundary.Format(time.RFC3339))
	})
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[indengine] shutdown signal received, saving final snapshot...")

	finalSnap, err := indicator.SnapshotEngine(svc.engine, "shutdown")
	if err == nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		svc.saveSnapshot(shutCtx, finalSnap)
		log.Println("[indengine] final snapshot saved")
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[indengine] shutdown complete.")
}

// saveSnapshot writes one snapshot to Redis (typed, with TTL) and to the
// durable store (single JSON marshal handed over as bytes).
func (svc *Service) saveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) {
	if err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap); err != nil {
		log.Printf("[indengine] redis snapshot write error: %v", err)
	}
	if svc.durable != nil {
		data, err := json.Marshal(snap)
		if err == nil {
			err = svc.durable.SaveSnapshotJSON(data)
		}
		if err != nil {
			log.Printf("[indengine] durable snapshot write error: %v", err)
		}
	}
	svc.prom.SnapshotSaves.Inc()
}

// loadSnapshot returns the newest engine snapshot, preferring Redis over
// the durable store. nil means cold start.
func (svc *Service) loadSnapshot(ctx context.Context) *indicator.EngineSnapshot {
	snap, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[indengine] redis snapshot read error: %v", err)
	}
	if snap != nil {
		return snap
	}
	if svc.durable == nil {
		return nil
	}

	data, err := svc.durable.ReadLatestSnapshotJSON()
	if err != nil {
		log.Printf("[indengine] durable snapshot read error: %v", err)
		return nil
	}
	if data == nil {
		return nil
	}
	var s indicator.EngineSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("[indengine] durable snapshot decode error: %v", err)
		return nil
	}
	return &s
}

// restoreEngine rebuilds the engine from the best available snapshot, warms
// whatever stayed cold with SQLite candles, and as a last resort pulls
// exchange klines.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := indicator.NewRestorer(svc.cfg.IndicatorConfigs)
	snap := svc.loadSnapshot(ctx)

	var err error
	svc.engine, err = restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}

	backfilled := 0
	if svc.sqlReader != nil {
		backfilled = restorer.BackfillFromSQLite(svc.engine, svc.sqlReader, func(results []model.IndicatorResult) {
			svc.redisWriter.WriteIndicatorBatch(ctx, results)
		})
		if backfilled > 0 {
			log.Printf("[indengine] warmed indicators from %d stored candles (results written to Redis)", backfilled)
		}
	}

	// Fully cold and nothing on disk: pull klines from the exchange.
	if snap == nil && backfilled == 0 {
		svc.backfillFromExchange(ctx)
	}

	return nil
}

// buildStreams lists the candle streams to consume: the configured markets
// when set, stream discovery otherwise.
func (svc *Service) buildStreams(ctx context.Context) []string {
	var streams []string
	for _, tf := range svc.cfg.EnabledTFs {
		if len(svc.cfg.Markets) > 0 {
			for _, mk := range svc.cfg.Markets {
				streams = append(streams, "candle:"+model.Itoa(tf)+"s:"+mk)
			}
			continue
		}
		streams = append(streams, svc.consumer.DiscoverTFStreams(ctx, []int{tf}, svc.cfg.Markets)...)
	}
	return streams
}

// replayStreams runs every sealed candle recorded after fromID on the
// consumed streams through the engine, writing indicator results back out.
// Returns the number of candles applied.
func (svc *Service) replayStreams(ctx context.Context, fromID string) int {
	ch := make(chan model.TFCandle, 5000)
	go func() {
		defer close(ch)
		for _, stream := range svc.streams {
			if _, err := svc.consumer.ReplayFromID(ctx, stream, fromID, ch); err != nil {
				log.Printf("[indengine] replay error on %s (from %s): %v", stream, fromID, err)
			}
		}
	}()

	applied := 0
	for tfc := range ch {
		if tfc.Forming {
			continue
		}
		if results := svc.engine.Process(tfc); len(results) > 0 {
			svc.redisWriter.WriteIndicatorBatch(ctx, results)
		}
		applied++
	}
	return applied
}

// backfillFromRedis replays the streams from the beginning so indicator
// history exists even when no snapshot did.
func (svc *Service) backfillFromRedis(ctx context.Context) {
	n := svc.replayStreams(ctx, "0")
	if n == 0 {
		log.Println("[indengine] no candles in Redis streams to backfill from")
		return
	}
	log.Printf("[indengine] ✅ backfilled %d candles from Redis streams (indicator results written)", n)
}

// replayDelta catches up on candles written between the snapshot checkpoint
// and now.
func (svc *Service) replayDelta(ctx context.Context) {
	snap, _ := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if snap == nil || snap.StreamID == "" {
		return
	}

	log.Printf("[indengine] replaying delta from stream ID: %s", snap.StreamID)
	n := svc.replayStreams(ctx, snap.StreamID)
	log.Printf("[indengine] ✅ replayed %d delta candles (results written to Redis)", n)
}
