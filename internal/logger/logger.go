// Package logger provides the structured logging used on the gateway's HTTP
// surface: a slog JSON handler plus trace-ID propagation through
// context.Context, so a request's access-log line and any handler logs can
// be joined later. Internal pipeline services keep plain [component] log
// lines; JSON is for the outward-facing surface that gets scraped.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a JSON logger for the given service and installs it as the
// slog default. The service name is embedded in every line.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	lg := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(lg)
	return lg
}

// ParseLevel maps a LOG_LEVEL-style string to a slog level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID returns a child context carrying the trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID pulls the trace ID back out of ctx, or "" when none was set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID builds a "{scope}-{unixNano}" trace ID from a scope label
// such as a market symbol or request tag.
func GenerateTraceID(scope string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", scope, ts.UnixNano())
}

// LogWithTrace turns the context's trace ID into slog attrs, ready to splat
// into a log call: slog.Info("msg", logger.LogWithTrace(ctx)...).
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
