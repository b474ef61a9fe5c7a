package indengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"crypto-systemv1/internal/indicator"
)

// snapshotLoop periodically checkpoints engine state to Redis and the
// durable store.
func (svc *Service) snapshotLoop(ctx context.Context) {
	every := time.Duration(svc.cfg.SnapshotIntervalS) * time.Second
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.checkpoint(ctx)
		}
	}
}

// checkpoint captures and persists one engine snapshot.
func (svc *Service) checkpoint(ctx context.Context) {
	snap, err := indicator.SnapshotEngine(svc.engine, svc.getLastStreamID(ctx))
	if err != nil {
		log.Printf("[indengine] snapshot error: %v", err)
		return
	}
	svc.saveSnapshot(ctx, snap)
	log.Printf("[indengine] ✅ checkpoint saved (%d markets)", len(snap.Markets))
}

// getLastStreamID synthesizes a wall-clock Redis stream ID to stamp the
// snapshot with, so replay after restore starts from roughly now.
func (svc *Service) getLastStreamID(ctx context.Context) string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
}
