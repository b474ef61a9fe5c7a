// Package session provides clock arithmetic for a market that never closes.
//
// Crypto trades 24/7: there is no open/close schedule and no holiday
// calendar. What remains of a session clock are the UTC day boundary
// (daily P&L rollover and risk reset) and the perpetual-swap funding
// anchors every 8 hours (00:00, 08:00, 16:00 UTC).
package session

import (
	"context"
	"fmt"
	"time"
)

// FundingIntervalHours is the spacing of perpetual funding anchors.
const FundingIntervalHours = 8

// DayStart returns midnight UTC of t's day.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDailyReset returns the next UTC midnight strictly after t.
func NextDailyReset(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// TimeUntilDailyReset returns the duration until the next UTC midnight.
func TimeUntilDailyReset(t time.Time) time.Duration {
	return NextDailyReset(t).Sub(t.UTC())
}

// NextFunding returns the next funding anchor (00:00, 08:00 or 16:00 UTC)
// strictly after t. A time exactly on an anchor rolls to the following one.
func NextFunding(t time.Time) time.Time {
	u := t.UTC()
	anchor := DayStart(u)
	for !anchor.After(u) {
		anchor = anchor.Add(FundingIntervalHours * time.Hour)
	}
	return anchor
}

// PrevFunding returns the most recent funding anchor at or before t.
func PrevFunding(t time.Time) time.Time {
	return NextFunding(t).Add(-FundingIntervalHours * time.Hour)
}

// TimeUntilFunding returns the duration until the next funding anchor.
func TimeUntilFunding(t time.Time) time.Duration {
	return NextFunding(t).Sub(t.UTC())
}

// StatusString returns a human-readable session status.
func StatusString(t time.Time) string {
	return fmt.Sprintf("Market 24/7 — funding in %s, daily reset in %s",
		fmtDur(TimeUntilFunding(t)), fmtDur(TimeUntilDailyReset(t)))
}

// RunDailyReset fires fn at every UTC midnight until ctx is cancelled.
// fn receives the boundary it fired for. Blocks; run in a goroutine.
func RunDailyReset(ctx context.Context, fn func(boundary time.Time)) {
	for {
		next := NextDailyReset(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(next)
		}
	}
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
