package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the full Prometheus series set for the pipeline services.
// Every service constructs one and wires the fields it drives; unused
// fields simply stay flat.
type Metrics struct {
	TicksTotal      prometheus.Counter
	CandlesTotal    prometheus.Counter
	WSReconnects    prometheus.Counter
	DroppedTicks    prometheus.Counter
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	CandleLag       prometheus.Gauge

	// resampler
	TFCandlesTotal *prometheus.CounterVec
	TFBuildDur     prometheus.Histogram

	// indicator engine
	IndicatorComputeDur prometheus.Histogram
	IndicatorsTotal     prometheus.Counter
	IndicatorRejects    prometheus.Counter

	RingBufOverflow prometheus.Counter

	// backpressure
	FanoutDropsTotal     *prometheus.CounterVec // by subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // by channel_name

	StaleCandlesRejected prometheus.Counter

	PELMessagesReclaimed prometheus.Counter

	// circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // closed=0 open=1 half-open=2
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	E2ELatency prometheus.Histogram // tick ingest → WS emit

	// feed liveness
	FeedState       prometheus.Gauge       // quiet=0 live=1
	FeedTransitions *prometheus.CounterVec // by type: quiet|resume|ws_disconnect|daily_reset

	// trading
	OrdersTotal   *prometheus.CounterVec // by side
	SnapshotSaves prometheus.Counter
	DailyPnL      prometheus.Gauge
}

// computeBuckets suit sub-millisecond hot-path stages; DefBuckets would
// lump everything into the first bucket.
var computeBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001}

// e2eBuckets span the realistic tick→WS range, 5ms up to a second.
var e2eBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// seriesBuilder creates collectors and remembers them so one
// MustRegister at the end covers the whole set.
type seriesBuilder struct {
	created []prometheus.Collector
}

func (b *seriesBuilder) keep(c prometheus.Collector) {
	b.created = append(b.created, c)
}

func (b *seriesBuilder) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	b.keep(c)
	return c
}

func (b *seriesBuilder) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	b.keep(c)
	return c
}

func (b *seriesBuilder) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	b.keep(g)
	return g
}

func (b *seriesBuilder) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	b.keep(g)
	return g
}

func (b *seriesBuilder) histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	b.keep(h)
	return h
}

// NewMetrics builds and registers the series against reg. Nil reg means
// the default registerer; tests pass prometheus.NewRegistry() so two
// engines in one process never collide on names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var b seriesBuilder
	m := &Metrics{
		TicksTotal:      b.counter("mdengine_ticks_total", "Ticks ingested from the exchange WebSocket"),
		CandlesTotal:    b.counter("mdengine_candles_total", "1s candles finalized by the aggregator"),
		WSReconnects:    b.counter("mdengine_ws_reconnects_total", "WebSocket reconnect attempts"),
		DroppedTicks:    b.counter("mdengine_dropped_ticks_total", "Ticks dropped late or on a full channel"),
		RedisWriteDur:   b.histogram("mdengine_redis_write_duration_seconds", "Latency of one Redis pipeline write", prometheus.DefBuckets),
		SQLiteCommitDur: b.histogram("mdengine_sqlite_commit_duration_seconds", "Latency of one SQLite batch commit", prometheus.DefBuckets),
		CandleLag:       b.gauge("mdengine_candle_lag_seconds", "Candle timestamp to emission delay"),

		TFCandlesTotal: b.counterVec("mdengine_tf_candles_total", "TF candles emitted, by timeframe", "tf"),
		TFBuildDur:     b.histogram("mdengine_tf_build_duration_seconds", "Resampler time per 1s candle", computeBuckets),

		IndicatorComputeDur: b.histogram("mdengine_indicator_compute_duration_seconds", "Indicator engine time per TF candle", computeBuckets),
		IndicatorsTotal:     b.counter("mdengine_indicators_total", "Indicator values computed"),
		IndicatorRejects:    b.counter("mdengine_indicator_rejects_total", "TF candles the indicator engine refused (NaN/Inf fields)"),

		RingBufOverflow: b.counter("mdengine_ringbuf_overflow_total", "Ring buffer pushes that found the buffer full"),

		FanoutDropsTotal:     b.counterVec("mdengine_fanout_drops_total", "Candles the fan-out bus dropped, by subscriber", "subscriber"),
		ChannelSaturationPct: b.gaugeVec("mdengine_channel_saturation_pct", "Channel fill level, len/cap*100", "channel_name"),

		StaleCandlesRejected: b.counter("mdengine_stale_candles_rejected_total", "Candles the resampler rejected as stale"),

		PELMessagesReclaimed: b.counter("indengine_pel_messages_reclaimed_total", "Stream entries reclaimed from dead consumers via XCLAIM"),

		RedisCircuitBreakerState: b.gauge("mdengine_redis_circuit_breaker_state", "Redis breaker state: 0 closed, 1 open, 2 half-open"),
		RedisCircuitBreakerTrips: b.counter("mdengine_redis_circuit_breaker_trips_total", "Times the Redis breaker tripped open"),
		RedisBufferedWrites:      b.counter("mdengine_redis_buffered_writes_total", "Writes held in the local buffer while the breaker was open"),

		E2ELatency: b.histogram("mdengine_e2e_latency_seconds", "Tick ingest to WS emit, end to end", e2eBuckets),

		FeedState:       b.gauge("mdengine_feed_state", "Feed liveness: 0 quiet, 1 live"),
		FeedTransitions: b.counterVec("mdengine_feed_transitions_total", "Feed state transitions, by type", "type"),

		OrdersTotal:   b.counterVec("execution_orders_total", "Paper orders executed, by side", "side"),
		SnapshotSaves: b.counter("indengine_snapshot_saves_total", "Engine snapshots persisted"),
		DailyPnL:      b.gauge("risk_daily_pnl", "Risk manager's running daily P&L in quote units"),
	}

	reg.MustRegister(b.created...)
	return m
}

// HealthStatus is the mutable view behind /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	TFBuilderOK    bool      `json:"tf_builder_ok"`
	IndicatorOK    bool      `json:"indicator_ok"`
	EnabledTFs     []int     `json:"enabled_tfs"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// set applies one mutation under the write lock.
func (h *HealthStatus) set(fn func()) {
	h.mu.Lock()
	fn()
	h.mu.Unlock()
}

func (h *HealthStatus) SetWSConnected(v bool) { h.set(func() { h.WSConnected = v }) }

func (h *HealthStatus) SetLastTickTime(t time.Time) { h.set(func() { h.LastTickTime = t }) }

func (h *HealthStatus) SetRedisConnected(v bool) { h.set(func() { h.RedisConnected = v }) }

func (h *HealthStatus) SetSQLiteOK(v bool) { h.set(func() { h.SQLiteOK = v }) }

func (h *HealthStatus) SetTFBuilderOK(v bool) { h.set(func() { h.TFBuilderOK = v }) }

func (h *HealthStatus) SetIndicatorOK(v bool) { h.set(func() { h.IndicatorOK = v }) }

func (h *HealthStatus) SetEnabledTFs(tfs []int) { h.set(func() { h.EnabledTFs = tfs }) }

// probe times fn and reports success plus round-trip milliseconds.
func probe(fn func() error) (bool, float64) {
	start := time.Now()
	err := fn()
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// CheckRedis pings Redis and records connectivity plus round-trip latency.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	ok, ms := probe(func() error { return rdb.Ping(ctx).Err() })
	h.set(func() {
		h.RedisConnected = ok
		h.RedisLatencyMs = ms
		h.LastCheckAt = time.Now()
	})
}

// CheckSQLite pings the DB handle and records health plus latency.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	ok, ms := probe(func() error { return db.PingContext(ctx) })
	h.set(func() {
		h.SQLiteOK = ok
		h.SQLiteLatencyMs = ms
		h.LastCheckAt = time.Now()
	})
}

// runProbes checks whichever dependencies exist, bounded to 3s total.
func (h *HealthStatus) runProbes(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if rdb != nil {
		h.CheckRedis(probeCtx, rdb)
	}
	if sqlDB != nil {
		h.CheckSQLite(probeCtx, sqlDB)
	}
}

// StartLivenessChecker probes the given dependencies every interval
// until ctx is cancelled. Nil handles are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.runProbes(ctx, rdb, sqlDB)
			}
		}
	}()
}

// overall folds the component flags into one status string and HTTP code.
// Any broken dependency degrades; losing both stores is unhealthy.
func (h *HealthStatus) overall() (string, int) {
	switch {
	case !h.RedisConnected && !h.SQLiteOK:
		return "unhealthy", http.StatusServiceUnavailable
	case !h.WSConnected || !h.RedisConnected || !h.SQLiteOK:
		return "degraded", http.StatusServiceUnavailable
	}
	return "healthy", http.StatusOK
}

// healthReport is the /healthz response body.
type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	WSConnected     bool    `json:"ws_connected"`
	LastTickTime    string  `json:"last_tick_time"`
	TickAge         string  `json:"tick_age"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	TFBuilderOK     bool    `json:"tf_builder_ok"`
	IndicatorOK     bool    `json:"indicator_ok"`
	EnabledTFs      []int   `json:"enabled_tfs"`
	LastCheckAt     string  `json:"last_check_at"`
}

// report assembles the body. Caller holds at least the read lock.
func (h *HealthStatus) report(status string) healthReport {
	rep := healthReport{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		TFBuilderOK:     h.TFBuilderOK,
		IndicatorOK:     h.IndicatorOK,
		EnabledTFs:      h.EnabledTFs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if !h.LastTickTime.IsZero() {
		rep.TickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}
	return rep
}

// ServeHTTP answers /healthz with the full component breakdown.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	status, httpCode := h.overall()
	rep := h.report(status)
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server exposes /metrics and /healthz on one listener.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer wires promhttp (default registry — the one the mains
// register against) and the health handler.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the listener in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] listener: %v", err)
		}
	}()
}

// Stop drains the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
