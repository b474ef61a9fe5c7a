package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// Two instances with private registries must not collide on metric
	// names — this is what lets tests and embedded engines coexist.
	m1 := NewMetrics(prometheus.NewRegistry())
	m2 := NewMetrics(prometheus.NewRegistry())

	m1.TicksTotal.Inc()
	m2.TicksTotal.Add(5)
	m1.TFCandlesTotal.WithLabelValues("60").Inc()
	m2.OrdersTotal.WithLabelValues("BUY").Inc()
}

func TestHealthStatus_StatusCodes(t *testing.T) {
	h := NewHealthStatus()
	h.SetWSConnected(true)
	h.SetRedisConnected(true)
	h.SetSQLiteOK(true)
	h.SetLastTickTime(time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200 when all healthy, got %d", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %s", body.Status)
	}

	// Lose the WS: degraded, 503
	h.SetWSConnected(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503 when degraded, got %d", rec.Code)
	}
}
