package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/flashsync/internal/remote"
)

// Pinger checks server reachability. Implemented by remote.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OnlineSetter receives probe outcomes. Implemented by connectivity.Monitor.
type OnlineSetter interface {
	SetOnline(online bool)
}

// ConnectivityProber stands in for platform network notifications by
// pinging the server on a fixed interval.
type ConnectivityProber struct {
	pinger   Pinger
	monitor  OnlineSetter
	interval time.Duration
}

// NewConnectivityProber creates a prober.
func NewConnectivityProber(p Pinger, m OnlineSetter, interval time.Duration) *ConnectivityProber {
	return &ConnectivityProber{
		pinger:   p,
		monitor:  m,
		interval: interval,
	}
}

// Run probes immediately, then on each tick. Blocks until ctx is cancelled.
func (p *ConnectivityProber) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe pings once and reports the outcome. Any HTTP response counts as
// reachable; only transport failures mean offline.
func (p *ConnectivityProber) Probe(ctx context.Context) {
	err := p.pinger.Ping(ctx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil || !errors.Is(err, remote.ErrNetworkUnavailable)
	if err != nil {
		slog.Debug("connectivity probe failed",
			"component", "worker",
			"worker", "connectivity-prober",
			"online", online,
			"error", err,
		)
	}
	p.monitor.SetOnline(online)
}
