// Package execution turns strategy signals into orders.
//
// Only paper execution exists: fills are simulated with configurable
// slippage and journaled to SQLite. The Executor interface is what the
// strategy loop binds to, so a live venue client can slot in behind the
// same surface.
package execution

import (
	"context"

	"crypto-systemv1/internal/strategy"
)

// OrderResult is the terminal outcome of one placed order.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // FILLED, REJECTED, ERROR
	Message string `json:"message"`
	Signal  strategy.Signal
}

// Executor consumes strategy signals and produces order results.
type Executor interface {
	// Run drains signalCh until it closes or ctx is cancelled.
	Run(ctx context.Context, signalCh <-chan strategy.Signal)

	// Results is the stream of order outcomes.
	Results() <-chan OrderResult
}
