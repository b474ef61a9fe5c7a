package logger

import (
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"
)

func TestInit_InstallsDefault(t *testing.T) {
	lg := Init("test-service", slog.LevelInfo)
	if lg == nil {
		t.Fatal("expected non-nil logger")
	}
	if slog.Default() != lg {
		t.Error("Init should install the returned logger as slog default")
	}
}

func TestTraceIDContext(t *testing.T) {
	ctx := context.Background()

	if got := TraceID(ctx); got != "" {
		t.Errorf("bare context should carry no trace id, got %q", got)
	}

	ctx = WithTraceID(ctx, "req-7f3a")
	if got := TraceID(ctx); got != "req-7f3a" {
		t.Errorf("TraceID = %q, want req-7f3a", got)
	}

	// A second WithTraceID shadows the first.
	ctx = WithTraceID(ctx, "req-9c01")
	if got := TraceID(ctx); got != "req-9c01" {
		t.Errorf("TraceID after overwrite = %q, want req-9c01", got)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	want := "BTCUSDT-" + strconv.FormatInt(ts.UnixNano(), 10)
	if got := GenerateTraceID("BTCUSDT", ts); got != want {
		t.Errorf("GenerateTraceID = %q, want %q", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogWithTrace(t *testing.T) {
	if attrs := LogWithTrace(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs without a trace id, got %v", attrs)
	}

	ctx := WithTraceID(context.Background(), "abc-123")
	attrs := LogWithTrace(ctx)
	if len(attrs) != 1 {
		t.Fatalf("expected exactly one attr, got %d", len(attrs))
	}
	attr, ok := attrs[0].(slog.Attr)
	if !ok {
		t.Fatalf("expected slog.Attr, got %T", attrs[0])
	}
	if attr.Key != "trace_id" || attr.Value.String() != "abc-123" {
		t.Errorf("attr = %s=%s, want trace_id=abc-123", attr.Key, attr.Value)
	}
}
