package gateway

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// SystemMetrics is the resource-usage block pushed to dashboards every
// broadcast tick.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	IndicatorMs float64 `json:"indicator_compute_ms"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	TS          string  `json:"ts"`
}

// Written by indengine after each compute pass; read here for the dashboard.
const indicatorLatencyKey = "metrics:indengine:indicator_compute_ms"

type cpuSample struct {
	idle  uint64
	total uint64
}

// prevCPU anchors the delta for CPUPercent; the first collection after boot
// reports 0 since one sample has no delta.
var prevCPU cpuSample

// procLines reads a /proc file whole. Missing files (non-Linux hosts)
// produce an empty slice.
func procLines(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(string(raw), "\n")
}

func readCPUSample() cpuSample {
	for _, line := range procLines("/proc/stat") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 5 {
			break
		}
		var s cpuSample
		for i, c := range cols[1:] {
			v, _ := strconv.ParseUint(c, 10, 64)
			s.total += v
			if i == 3 { // idle column
				s.idle = v
			}
		}
		return s
	}
	return cpuSample{}
}

// cpuPercent derives utilization from two jiffy samples.
func cpuPercent(prev, cur cpuSample) float64 {
	if prev.total == 0 || cur.total <= prev.total {
		return 0
	}
	dTotal := float64(cur.total - prev.total)
	dIdle := float64(cur.idle - prev.idle)
	return (1.0 - dIdle/dTotal) * 100.0
}

func readLoadAvg() (l1, l5, l15 float64) {
	lines := procLines("/proc/loadavg")
	if len(lines) == 0 {
		return
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 3 {
		return
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return
}

// memField parses "MemTotal:  16284900 kB" style lines.
func memField(line, prefix string) (uint64, bool) {
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func readMemInfo() (totalKB, availKB uint64) {
	for _, line := range procLines("/proc/meminfo") {
		if v, ok := memField(line, "MemTotal:"); ok {
			totalKB = v
		}
		if v, ok := memField(line, "MemAvailable:"); ok {
			availKB = v
		}
	}
	return
}

// CollectMetrics samples process and host resource usage. Host numbers come
// from /proc and stay zero on platforms without it.
func CollectMetrics(start time.Time) SystemMetrics {
	now := time.Now()
	m := SystemMetrics{
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(now.Sub(start).Seconds()),
		TS:         now.UTC().Format(time.RFC3339Nano),
	}

	sample := readCPUSample()
	m.CPUPercent = cpuPercent(prevCPU, sample)
	prevCPU = sample

	m.CPULoad1, m.CPULoad5, m.CPULoad15 = readLoadAvg()

	if totalKB, availKB := readMemInfo(); totalKB > 0 {
		usedKB := totalKB - availKB
		m.MemTotalMB = float64(totalKB) / 1024
		m.MemUsedMB = float64(usedKB) / 1024
		m.MemPercent = float64(usedKB) / float64(totalKB) * 100
	}

	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	m.HeapAllocMB = float64(rt.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(rt.Sys) / 1024 / 1024
	m.GCRuns = rt.NumGC

	return m
}

// ReadIndicatorLatency fetches indengine's published compute latency. The
// short timeout keeps a slow Redis from stalling the metrics tick.
func ReadIndicatorLatency(ctx context.Context, rdb *goredis.Client) (float64, bool) {
	if rdb == nil {
		return 0, false
	}
	rctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	raw, err := rdb.Get(rctx, indicatorLatencyKey).Result()
	if err != nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(raw, 64)
	return ms, err == nil
}

// TFLabel formats a timeframe in seconds as "30s", "5m", "4h", or "1d".
func TFLabel(tf int) string {
	switch {
	case tf >= 86400:
		return fmt.Sprintf("%dd", tf/86400)
	case tf >= 3600:
		return fmt.Sprintf("%dh", tf/3600)
	case tf >= 60:
		return fmt.Sprintf("%dm", tf/60)
	}
	return fmt.Sprintf("%ds", tf)
}
