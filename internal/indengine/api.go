package indengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-systemv1/internal/config"
	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/portfolio"
)

// startHTTP launches the HTTP server for the reload, risk, and order
// endpoints. Mutating endpoints require a TOTP code in the X-Admin-OTP
// header; when no admin secret is configured they are disabled outright.
func (svc *Service) startHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/reload", svc.handleReload)
	mux.HandleFunc("/risk", svc.handleRiskStatus)
	mux.HandleFunc("/risk/params", svc.handleRiskParams)
	mux.HandleFunc("/risk/size", svc.handleRiskSize)
	mux.HandleFunc("/orders", svc.handleOrders)
	mux.HandleFunc("/healthz", healthz)
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Printf("[indengine] HTTP server on %s (/reload, /risk, /risk/params, /risk/size, /orders, /healthz, /metrics)", svc.cfg.HTTPAddr)
		if err := http.ListenAndServe(svc.cfg.HTTPAddr, mux); err != nil {
			log.Printf("[indengine] HTTP server error: %v", err)
		}
	}()
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "ok")
}

// allow rejects any method but the one given, mirroring the error text the
// frontend expects ("POST only" / "GET only").
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, method+" only", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// requireAdmin authorizes a mutating request via TOTP. With no secret
// configured the admin surface is disabled rather than left open.
func (svc *Service) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if svc.cfg.AdminTOTPSecret == "" {
		http.Error(w, "admin API disabled (no ADMIN_TOTP_SECRET configured)", http.StatusForbidden)
		return false
	}
	code := r.Header.Get("X-Admin-OTP")
	if code == "" || !totp.Validate(code, svc.cfg.AdminTOTPSecret) {
		log.Printf("[indengine] rejected admin request to %s from %s: bad OTP", r.URL.Path, r.RemoteAddr)
		http.Error(w, "invalid or missing X-Admin-OTP", http.StatusUnauthorized)
		return false
	}
	return true
}

// handleReload handles POST /reload for live config updates via HTTP.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) || !svc.requireAdmin(w, r) {
		return
	}
	var tfConfigs []indicator.TFIndicatorConfig
	if !decodeBody(w, r, &tfConfigs) {
		return
	}
	if err := indicator.ValidateConfigs(tfConfigs); err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	preserved, created := svc.engine.ReloadConfigs(tfConfigs)
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// handleRiskStatus handles GET /risk — current P&L, equity, and limits.
func (svc *Service) handleRiskStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	status := svc.rm.Status()
	status["trading_enabled"] = svc.cfg.StrategyEnabled
	status["open_positions"] = len(svc.pf.GetPositions())
	writeJSON(w, status)
}

// handleRiskParams handles POST /risk/params — partial sizing updates.
func (svc *Service) handleRiskParams(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) || !svc.requireAdmin(w, r) {
		return
	}
	var update portfolio.ParamsUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	if err := svc.rm.UpdateParams(update); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"sizing": svc.rm.Params(),
	})
}

// handleRiskSize handles GET /risk/size?balance=X&price=Y — a sizing
// preview with stop and target levels, without touching any state.
func (svc *Service) handleRiskSize(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	balance, err1 := strconv.ParseFloat(r.URL.Query().Get("balance"), 64)
	price, err2 := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if err1 != nil || err2 != nil || price <= 0 {
		http.Error(w, "balance and price query params required (price > 0)", http.StatusBadRequest)
		return
	}
	writeJSON(w, svc.rm.AssessRisk(balance, price))
}

// handleOrders handles GET /orders?limit=N — the most recent paper orders.
func (svc *Service) handleOrders(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if svc.sqlReader == nil {
		http.Error(w, "order journal unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	orders, err := svc.sqlReader.ReadRecentOrders(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, orders)
}

// startConfigSubscriber listens on Redis PubSub for dynamic indicator config updates.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go svc.watchConfigChannel(ctx)
}

func (svc *Service) watchConfigChannel(ctx context.Context) {
	pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
	if pubsub == nil {
		log.Println("[indengine] WARNING: could not subscribe to config:indicators")
		return
	}
	defer pubsub.Close()
	log.Println("[indengine] subscribed to config:indicators for dynamic reload")

	feed := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-feed:
			if !ok {
				return
			}
			log.Printf("[indengine] received config update: %s", msg.Payload)
			svc.reloadFromSpecs(ctx, config.ParseIndicatorSpecs(msg.Payload))
		}
	}
}

// reloadFromSpecs applies one indicator spec list across every enabled TF.
// Freshly created indicators are backfilled from the candle streams so they
// do not sit cold until enough live candles arrive.
func (svc *Service) reloadFromSpecs(ctx context.Context, specs []indicator.IndicatorConfig) {
	tfConfigs := make([]indicator.TFIndicatorConfig, len(svc.cfg.EnabledTFs))
	for i, tf := range svc.cfg.EnabledTFs {
		tfConfigs[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: specs}
	}
	if err := indicator.ValidateConfigs(tfConfigs); err != nil {
		log.Printf("[indengine] invalid config: %v", err)
		return
	}
	preserved, created := svc.engine.ReloadConfigs(tfConfigs)
	log.Printf("[indengine] reloaded: preserved=%d, created=%d", preserved, created)

	if created > 0 {
		svc.backfillNewIndicators(ctx)
	}
}

// backfillNewIndicators replays every candle stream from the start so
// freshly created indicators catch up with history.
func (svc *Service) backfillNewIndicators(ctx context.Context) {
	feed := make(chan model.TFCandle, 5000)
	go func() {
		defer close(feed)
		for _, stream := range svc.streams {
			if _, err := svc.consumer.ReplayFromID(ctx, stream, "0", feed); err != nil {
				log.Printf("[indengine] reload backfill error on %s: %v", stream, err)
			}
		}
	}()

	replayed := 0
	for tfc := range feed {
		if tfc.Forming {
			continue
		}
		if results := svc.engine.Process(tfc); len(results) > 0 {
			svc.redisWriter.WriteIndicatorBatch(ctx, results)
		}
		replayed++
	}
	log.Printf("[indengine] ✅ reload backfill: processed %d candles for new indicators", replayed)
}
