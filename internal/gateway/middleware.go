package gateway

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"crypto-systemv1/internal/logger"
)

// statusRecorder captures the response code for access logging. Hijack is
// forwarded so the WebSocket upgrade on /ws keeps working behind the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// AccessLog wraps a handler with JSON access logging. Every request gets a
// trace ID — taken from X-Trace-ID when the caller supplies one, generated
// otherwise — which rides the request context so handler logs can carry it
// via logger.LogWithTrace.
func AccessLog(lg *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := r.Header.Get("X-Trace-ID")
		if tid == "" {
			tid = logger.GenerateTraceID("req", start)
		}
		ctx := logger.WithTraceID(r.Context(), tid)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		lg.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("trace_id", tid),
		)
	})
}
