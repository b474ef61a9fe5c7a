package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-systemv1/internal/config"
	"crypto-systemv1/internal/gateway"
	"crypto-systemv1/internal/logger"

	goredis "github.com/go-redis/redis/v8"
)

var processStart = time.Now()

// openRedis connects and fails fast when the broker is unreachable.
func openRedis(ctx context.Context) *goredis.Client {
	addr := config.GetEnv("REDIS_ADDR", "localhost:6379")
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[api_gateway] redis connection failed: %v", err)
	}
	log.Printf("[api_gateway] redis connected at %s", addr)
	return rdb
}

// serve blocks in ListenAndServe; only ErrServerClosed is a clean exit.
func serve(srv *http.Server, listenAddr string) {
	log.Printf("[api_gateway] ✅ serving at http://localhost%s", listenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("[api_gateway] server error: %v", err)
	}
}

// waitForSignal parks main until SIGINT or SIGTERM arrives.
func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[api_gateway] starting...")
	config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := openRedis(ctx)

	tfs := config.ParseTFs(config.GetEnv("ENABLED_TFS", "60,120,180,300"))
	markets := config.ParseMarkets(config.GetEnv("MARKETS", "BINANCE:BTCUSDT"))
	specs := config.ParseIndicatorSpecs(config.GetEnv("INDICATOR_CONFIGS", ""))
	indicators := make([]string, len(specs))
	for i, spec := range specs {
		indicators[i] = spec.DisplayName()
	}

	// Hub manages all WebSocket connections.
	hub := gateway.NewHub(rdb, tfs, markets, indicators)
	go hub.Run(ctx)
	go hub.StartMetricsBroadcast(ctx, processStart)

	// HTTP routes, behind JSON access logging.
	accessLog := logger.Init("api_gateway", logger.ParseLevel(config.GetEnv("LOG_LEVEL", "info")))
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, rdb, ctx, tfs, markets, indicators, processStart)

	listenAddr := config.GetEnv("GATEWAY_ADDR", ":9090")
	srv := &http.Server{Addr: listenAddr, Handler: gateway.AccessLog(accessLog, mux)}
	go serve(srv, listenAddr)

	waitForSignal()
	log.Println("[api_gateway] shutting down...")
	cancel()
	srv.Shutdown(context.Background())
}
