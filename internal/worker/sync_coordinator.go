// Package worker holds the background loops of the sync client.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/flashsync/internal/connectivity"
	"github.com/hyperengineering/flashsync/internal/syncengine"
)

// Syncer runs sync passes. Implemented by syncengine.Engine.
type Syncer interface {
	SyncPending(ctx context.Context) syncengine.Result
	IsSyncing() bool
}

// StatusSource publishes connectivity transitions. Implemented by
// connectivity.Monitor.
type StatusSource interface {
	Status() connectivity.Status
	ResetWasOffline()
	OnChange(fn func(connectivity.Status)) (cancel func())
}

// SyncCoordinator drains the outbox when connectivity is regained and on a
// fixed interval while online.
type SyncCoordinator struct {
	syncer   Syncer
	monitor  StatusSource
	interval time.Duration
}

// NewSyncCoordinator creates a coordinator. interval is the periodic sync
// cadence while online.
func NewSyncCoordinator(s Syncer, m StatusSource, interval time.Duration) *SyncCoordinator {
	return &SyncCoordinator{
		syncer:   s,
		monitor:  m,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled. A reconnect that happened before Run
// started is handled immediately.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)

	// The observer runs on the SetOnline caller's goroutine, so it only
	// signals. The loop reads the current status itself, which keeps a
	// coalesced signal from hiding the latest transition.
	wake := make(chan struct{}, 1)
	unsubscribe := c.monitor.OnChange(func(connectivity.Status) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.onReconnect(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-wake:
			c.onReconnect(ctx)
		case <-ticker.C:
			c.onTick(ctx)
		}
	}
}

func (c *SyncCoordinator) onReconnect(ctx context.Context) {
	st := c.monitor.Status()
	if !st.IsOnline || !st.WasOffline {
		return
	}
	c.sync(ctx, "reconnect")
	c.monitor.ResetWasOffline()
}

func (c *SyncCoordinator) onTick(ctx context.Context) {
	if !c.monitor.Status().IsOnline || c.syncer.IsSyncing() {
		return
	}
	c.sync(ctx, "interval")
}

func (c *SyncCoordinator) sync(ctx context.Context, trigger string) {
	start := time.Now()
	res := c.syncer.SyncPending(ctx)
	if res.Success == 0 && res.Failed == 0 {
		return
	}
	slog.Info("sync pass completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"trigger", trigger,
		"success", res.Success,
		"failed", res.Failed,
		"dropped", res.Dropped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
