package indengine

import (
	"context"
	"log"
	"strings"

	"crypto-systemv1/internal/model"
	"crypto-systemv1/pkg/binance"
)

// tfToInterval maps timeframe seconds to Binance kline interval strings.
// TFs without an exchange-native interval cannot be REST-backfilled.
var tfToInterval = map[int]string{
	60:    binance.Interval1m,
	180:   binance.Interval3m,
	300:   binance.Interval5m,
	900:   binance.Interval15m,
	3600:  binance.Interval1h,
	14400: binance.Interval4h,
	86400: binance.Interval1d,
}

// backfillFromExchange warms up cold indicators from Binance REST klines.
// Used only on a fully cold start when neither a snapshot nor SQLite
// history exists. Explicit market configuration is required — the
// exchange cannot be asked to "discover" what we consume.
func (svc *Service) backfillFromExchange(ctx context.Context) {
	if svc.rest == nil || len(svc.cfg.Markets) == 0 {
		return
	}

	limit := svc.warmupBars()
	total := 0
	for _, tf := range svc.cfg.EnabledTFs {
		interval, ok := tfToInterval[tf]
		if !ok {
			log.Printf("[indengine] tf=%ds has no exchange-native interval, skipping REST warmup", tf)
			continue
		}
		for _, mk := range svc.cfg.Markets {
			exchange, symbol, ok := strings.Cut(mk, ":")
			if !ok || exchange != "BINANCE" {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			klines, err := svc.rest.Klines(symbol, interval, limit)
			if err != nil {
				log.Printf("[indengine] REST warmup %s %s failed: %v", symbol, interval, err)
				continue
			}
			// The last kline is still open on the exchange; drop it.
			if len(klines) > 0 {
				klines = klines[:len(klines)-1]
			}
			for _, kl := range klines {
				tfc := model.TFCandle{
					Symbol:   symbol,
					Exchange: exchange,
					TF:       tf,
					TS:       kl.OpenTime.UTC(),
					Open:     kl.Open,
					High:     kl.High,
					Low:      kl.Low,
					Close:    kl.Close,
					Volume:   kl.Volume,
				}
				results := svc.engine.Process(tfc)
				if len(results) > 0 {
					svc.redisWriter.WriteIndicatorBatch(ctx, results)
				}
			}
			total += len(klines)
		}
	}
	if total > 0 {
		log.Printf("[indengine] ✅ cold-start warmup: %d klines fetched from exchange REST", total)
	}
}

// warmupBars returns how many bars the slowest configured indicator needs
// to become ready, plus one.
func (svc *Service) warmupBars() int {
	max := 0
	for _, tfCfg := range svc.cfg.IndicatorConfigs {
		for _, ind := range tfCfg.Indicators {
			if ind.Period > max {
				max = ind.Period
			}
			if ind.Period2 > max {
				max = ind.Period2
			}
		}
	}
	if max == 0 {
		max = 50
	}
	return max + 1
}
