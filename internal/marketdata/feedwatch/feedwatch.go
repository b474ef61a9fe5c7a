// Package feedwatch detects feed outages by watching tick arrival times.
// A market that trades around the clock should never go quiet: silence
// longer than QuietAfter means the upstream connection or the venue
// itself has a problem, and the service should alert and show degraded
// health rather than serve stale prices as live.
package feedwatch

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watcher tracks the arrival time of the most recent tick and flips
// between live and quiet states.
type Watcher struct {
	mu        sync.Mutex
	startedAt time.Time
	lastTick  time.Time
	quiet     bool

	// QuietAfter is how long without ticks before the feed is declared
	// quiet. Default: 30 seconds.
	QuietAfter time.Duration

	// CheckInterval is how often Run re-evaluates. Default: 5 seconds.
	CheckInterval time.Duration

	// Hooks (optional)
	OnQuiet  func(silence time.Duration)
	OnResume func(outage time.Duration)
}

// New creates a Watcher with default thresholds.
func New() *Watcher {
	return &Watcher{
		startedAt:     time.Now(),
		QuietAfter:    30 * time.Second,
		CheckInterval: 5 * time.Second,
	}
}

// Observe records a tick arrival at now. If the feed was quiet, the
// watcher flips back to live and fires OnResume with the outage length.
func (w *Watcher) Observe(now time.Time) {
	w.mu.Lock()
	wasQuiet := w.quiet
	var outage time.Duration
	if wasQuiet && !w.lastTick.IsZero() {
		outage = now.Sub(w.lastTick)
	}
	w.quiet = false
	w.lastTick = now
	resume := w.OnResume
	w.mu.Unlock()

	if wasQuiet {
		log.Printf("[feedwatch] feed resumed after %v outage", outage.Round(time.Second))
		if resume != nil {
			resume(outage)
		}
	}
}

// CheckAt evaluates quietness at now and returns the current quiet state.
// Fires OnQuiet exactly once per live→quiet transition.
func (w *Watcher) CheckAt(now time.Time) bool {
	w.mu.Lock()
	since := w.lastTick
	if since.IsZero() {
		since = w.startedAt // never saw a tick: count from startup
	}
	silence := now.Sub(since)

	if w.quiet || silence < w.QuietAfter {
		quiet := w.quiet
		w.mu.Unlock()
		return quiet
	}

	w.quiet = true
	hook := w.OnQuiet
	w.mu.Unlock()

	log.Printf("[feedwatch] no ticks for %v — feed is quiet", silence.Round(time.Second))
	if hook != nil {
		hook(silence)
	}
	return true
}

// Quiet reports whether the feed is currently considered quiet.
func (w *Watcher) Quiet() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quiet
}

// LastTick returns the arrival time of the most recent tick (zero if none).
func (w *Watcher) LastTick() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTick
}

// Run drives periodic checks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckAt(time.Now())
		}
	}
}
