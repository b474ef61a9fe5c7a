// cmd/backtest replays historical candle data from SQLite through the
// indicator engine and the paper-trading stack to validate indicators and
// strategies without live market data.
//
// Strategy and risk parameters come from a YAML profile; the built-in
// profile matches the live defaults. Replayed fills never touch Redis or the
// live order journal — pass --journal to record them to a standalone SQLite
// file instead.
//
// Usage:
//
//	go run ./cmd/backtest --speed=100 --tf=60,300 --from=0
//	go run ./cmd/backtest --profile=backtest.yaml --journal=data/bt_trades.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"crypto-systemv1/internal/config"
	"crypto-systemv1/internal/execution"
	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/marketdata/replay"
	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/portfolio"
	"crypto-systemv1/internal/strategy"
	sqlitestore "crypto-systemv1/internal/store/sqlite"
)

// profile configures the strategies and risk parameters for a run. Fields
// omitted from the YAML file keep the built-in defaults.
type profile struct {
	InitialEquity float64 `yaml:"initial_equity"` // quote units (USDT)
	SlippageBps   float64 `yaml:"slippage_bps"`
	HeikinAshi    bool    `yaml:"heikin_ashi"`

	EMAThreshold struct {
		Enabled   bool    `yaml:"enabled"`
		Period    int     `yaml:"period"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"ema_threshold"`

	SMACrossover struct {
		Enabled   bool `yaml:"enabled"`
		Fast      int  `yaml:"fast"`
		Slow      int  `yaml:"slow"`
		RSIFilter bool `yaml:"rsi_filter"`
		RSIPeriod int  `yaml:"rsi_period"`
	} `yaml:"sma_crossover"`

	Sizing portfolio.SizingParams `yaml:"sizing"`
	Limits portfolio.Limits       `yaml:"limits"`
}

// defaultProfile mirrors the live indengine defaults.
func defaultProfile() profile {
	var p profile
	p.InitialEquity = 10000
	p.SlippageBps = 5
	p.EMAThreshold.Enabled = true
	p.EMAThreshold.Period = 21
	p.EMAThreshold.Threshold = 0.005
	p.SMACrossover.Enabled = true
	p.SMACrossover.Fast = 9
	p.SMACrossover.Slow = 21
	p.SMACrossover.RSIFilter = true
	p.SMACrossover.RSIPeriod = 14
	p.Sizing = portfolio.DefaultSizingParams()
	p.Limits = portfolio.DefaultLimits()
	return p
}

func loadProfile(path string) (profile, error) {
	p := defaultProfile()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

// options holds the parsed command line.
type options struct {
	speed        float64
	tfs          []int
	fromTS       int64
	dbPath       string
	indicatorCfg string
	profilePath  string
	journalPath  string
	stratTF      int
	heikin       bool
}

func parseFlags() options {
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	tfStr := flag.String("tf", "60,300", "Comma-separated TFs to replay")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	indicatorCfg := flag.String("indicators", "", "Indicator specs: TYPE:PERIOD[:PERIOD2],... (empty=defaults)")
	profilePath := flag.String("profile", "", "YAML strategy/risk profile (empty=built-in defaults)")
	journalPath := flag.String("journal", "", "SQLite path for the trade journal (empty=off)")
	stratTF := flag.Int("strategy-tf", 0, "TF that feeds strategies (0=lowest replayed TF)")
	heikin := flag.Bool("heikin", false, "Feed strategies Heikin Ashi candles instead of raw OHLC")
	flag.Parse()

	opts := options{
		speed:        *speed,
		tfs:          config.ParseTFs(*tfStr),
		fromTS:       *fromTS,
		dbPath:       *dbPath,
		indicatorCfg: *indicatorCfg,
		profilePath:  *profilePath,
		journalPath:  *journalPath,
		stratTF:      *stratTF,
		heikin:       *heikin,
	}
	if len(opts.tfs) == 0 {
		log.Fatal("[backtest] no valid TFs specified")
	}
	if opts.stratTF == 0 {
		opts.stratTF = opts.tfs[0]
		for _, tf := range opts.tfs {
			if tf < opts.stratTF {
				opts.stratTF = tf
			}
		}
	}
	return opts
}

// buildStrategies registers the strategies the profile enables.
func buildStrategies(prof profile) (*strategy.Engine, []string) {
	eng := strategy.NewEngine(256)
	var names []string
	if prof.EMAThreshold.Enabled {
		s, err := strategy.NewEMAThreshold(prof.EMAThreshold.Period, prof.EMAThreshold.Threshold)
		if err != nil {
			log.Fatalf("[backtest] ema_threshold: %v", err)
		}
		eng.Register(s)
		names = append(names, s.Name())
	}
	if prof.SMACrossover.Enabled {
		s := strategy.NewSMACrossover(prof.SMACrossover.Fast, prof.SMACrossover.Slow,
			prof.SMACrossover.RSIFilter, prof.SMACrossover.RSIPeriod)
		eng.Register(s)
		names = append(names, s.Name())
	}
	return eng, names
}

// runStats accumulates per-trade analytics during the replay. Everything
// runs on the replay goroutine, so no locking is needed.
type runStats struct {
	tracker *portfolio.PnLTracker
	equity  float64
	peak    float64
	maxDD   float64
	returns []float64
	wins    int
	closed  int
}

func newRunStats(startEquity float64) *runStats {
	return &runStats{
		tracker: portfolio.NewPnLTracker(),
		equity:  startEquity,
		peak:    startEquity,
	}
}

// onFill mirrors a fill into the tracker; a closing trade's realized P&L
// folds into the equity curve, with its return measured against the equity
// at close time.
func (st *runStats) onFill(f execution.Fill) {
	realized := st.tracker.RecordTrade(portfolio.Trade{
		Symbol:    f.Signal.Symbol,
		Exchange:  f.Signal.Exchange,
		Action:    string(f.Signal.Action),
		Qty:       f.FillQty,
		Price:     f.FillPrice,
		Timestamp: f.FilledAt,
	})
	if realized == 0 {
		return
	}
	st.closed++
	if realized > 0 {
		st.wins++
	}
	if st.equity > 0 {
		st.returns = append(st.returns, realized/st.equity)
	}
	st.equity += realized
	if st.equity > st.peak {
		st.peak = st.equity
	}
	if st.peak > 0 {
		if dd := (st.peak - st.equity) / st.peak * 100; dd > st.maxDD {
			st.maxDD = dd
		}
	}
}

func (st *runStats) printSummary(processed, readyResults, fills int, tfs []int) {
	meanRet, stddevRet := 0.0, 0.0
	if len(st.returns) > 0 {
		meanRet = stat.Mean(st.returns, nil)
	}
	if len(st.returns) > 1 {
		stddevRet = stat.StdDev(st.returns, nil)
	}
	winRate := 0.0
	if st.closed > 0 {
		winRate = float64(st.wins) / float64(st.closed) * 100
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", processed)
	fmt.Printf("║  Indicator results: %-16d ║\n", readyResults)
	fmt.Printf("║  TFs:               %-16v ║\n", tfs)
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Fills:             %-16d ║\n", fills)
	fmt.Printf("║  Closed trades:     %-16d ║\n", st.closed)
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", winRate))
	fmt.Printf("║  Mean trade return: %-16s ║\n", fmt.Sprintf("%+.3f%%", meanRet*100))
	fmt.Printf("║  Return stddev:     %-16s ║\n", fmt.Sprintf("%.3f%%", stddevRet*100))
	fmt.Printf("║  Max drawdown:      %-16s ║\n", fmt.Sprintf("%.2f%%", st.maxDD))
	fmt.Printf("║  Final equity:      %-16s ║\n", fmt.Sprintf("%.2f USDT", st.equity))
	fmt.Println("╚══════════════════════════════════════╝")
}

// drive consumes replayed candles: every TF feeds the indicator engine and
// the mark-to-market price, the strategy TF additionally drives the trading
// loop with synchronous fills.
func drive(candleCh <-chan model.TFCandle, indEngine *indicator.Engine, pf *portfolio.Portfolio,
	stratEngine *strategy.Engine, exec *execution.PaperExecutor, stratTF int, useHeikin bool) (processed, readyResults, fills int) {
	ha := indicator.NewHeikinAshiState()
	for candle := range candleCh {
		results := indEngine.Process(candle)
		processed++
		for _, r := range results {
			if !r.Ready {
				continue
			}
			readyResults++
			if processed <= 10 || processed%100 == 0 {
				fmt.Printf("  [%s] %s TF=%ds %s:%s = %.4f\n",
					candle.TS.Format("15:04:05"), r.Name, r.TF, r.Exchange, r.Symbol, r.Value)
			}
		}

		pf.UpdatePrice(candle.Candle())

		if candle.TF != stratTF {
			continue
		}
		in := candle
		if useHeikin {
			in = ha.Next(candle)
		}
		for _, sig := range stratEngine.Process(in) {
			exec.ExecuteSignal(sig)
			fills++
		}
	}
	return processed, readyResults, fills
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	opts := parseFlags()

	prof, err := loadProfile(opts.profilePath)
	if err != nil {
		log.Fatalf("[backtest] profile load failed: %v", err)
	}
	useHeikin := prof.HeikinAshi || opts.heikin

	reader, err := sqlitestore.NewReader(opts.dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	indSpecs := config.ParseIndicatorSpecs(opts.indicatorCfg)
	indConfigs := config.BuildTFConfigs(opts.tfs, indSpecs)

	restorer := indicator.NewRestorer(indConfigs)
	indEngine, err := restorer.RestoreFromSnap(nil) // cold start
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	stratEngine, stratNames := buildStrategies(prof)

	pf := portfolio.New()
	rm := portfolio.NewRiskManager(prof.Sizing, prof.Limits, pf, prof.InitialEquity)
	stats := newRunStats(prof.InitialEquity)
	stratEngine.AttachRisk(rm, func() float64 { return stats.equity })

	exec := execution.NewPaperExecutor(256, prof.SlippageBps)
	exec.AttachPortfolio(pf, rm)
	exec.OnFill = stats.onFill
	if opts.journalPath != "" {
		j, err := execution.OpenJournal(opts.journalPath)
		if err != nil {
			log.Fatalf("[backtest] journal open failed: %v", err)
		}
		defer j.Close()
		exec.AttachJournal(j)
	}

	log.Printf("[backtest] profile: equity=%.2f slippage=%.1fbps strategyTF=%ds heikin=%v strategies=%s",
		prof.InitialEquity, prof.SlippageBps, opts.stratTF, useHeikin, strings.Join(stratNames, ","))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	replayer := replay.New(reader)
	candleCh := make(chan model.TFCandle, 10000)
	go func() {
		if err := replayer.Run(ctx, opts.tfs, opts.fromTS, opts.speed, candleCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(candleCh)
	}()

	processed, readyResults, fills := drive(candleCh, indEngine, pf, stratEngine, exec, opts.stratTF, useHeikin)
	stats.printSummary(processed, readyResults, fills, opts.tfs)
}
