// Package client wires the offline-first sync layer together and owns its
// lifecycle.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/flashsync/internal/connectivity"
	"github.com/hyperengineering/flashsync/internal/entity"
	"github.com/hyperengineering/flashsync/internal/outbox"
	"github.com/hyperengineering/flashsync/internal/remote"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/syncengine"
	"github.com/hyperengineering/flashsync/internal/worker"
)

// ErrClosed is returned by operations on a client after Shutdown.
var ErrClosed = errors.New("client is closed")

// Config holds the client configuration.
type Config struct {
	LocalPath      string        // Local cache database path
	APIURL         string        // Remote API base URL
	APIToken       string        // Bearer token for the remote API
	SyncInterval   time.Duration // Periodic sync cadence (default: 5 minutes)
	StaleAfter     time.Duration // Age at which failing operations are dropped (default: 7 days)
	ProbeInterval  time.Duration // Connectivity probe cadence (default: 30 seconds)
	RequestTimeout time.Duration // Per-request timeout (default: 30 seconds)
	OfflineMode    bool          // Never contact the server
	SeedSampleData bool          // Show sample card sets while the cache is empty
}

func (c *Config) setDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = syncengine.DefaultStaleAfter
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Status is a snapshot of the sync layer.
type Status struct {
	Online        bool
	Syncing       bool
	Degraded      bool
	Pending       int
	LastSync      time.Time
	LastResult    syncengine.Result
	SchemaVersion int64
}

type versioned interface {
	Version(ctx context.Context) (int64, error)
}

// Client is the entry point for applications. Create it with New, call
// Initialize before use and Shutdown when done.
type Client struct {
	config   Config
	store    store.Store
	degraded bool
	queue    *outbox.Queue
	monitor  *connectivity.Monitor
	remote   *remote.Client
	engine   *syncengine.Engine
	cardSets *entity.CardSets
	stats    *entity.Statistics

	mu          sync.Mutex
	initialized bool
	closed      bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New builds a client. Opening the local cache never fails: when it is
// unusable the client runs on an in-memory store and reports Degraded.
func New(ctx context.Context, config Config) (*Client, error) {
	if config.LocalPath == "" {
		return nil, errors.New("local path is required")
	}
	config.setDefaults()

	s, degraded := store.Open(ctx, config.LocalPath)
	queue := outbox.New(s)
	monitor := connectivity.NewMonitor(false)
	api := remote.New(config.APIURL,
		remote.WithSigner(remote.BearerToken(config.APIToken)),
		remote.WithTimeout(config.RequestTimeout),
	)
	engine := syncengine.New(queue, s, api, monitor, syncengine.WithStaleAfter(config.StaleAfter))

	c := &Client{
		config:   config,
		store:    s,
		degraded: degraded,
		queue:    queue,
		monitor:  monitor,
		remote:   api,
		engine:   engine,
		cardSets: entity.NewCardSets(s, queue, monitor, api, entity.WithSeed(config.SeedSampleData)),
		stats:    entity.NewStatistics(s, queue, monitor, api),
	}
	engine.OnApplied(c.cardSets.HandleApplied)
	engine.OnApplied(c.stats.HandleApplied)
	return c, nil
}

func (c *Client) connected() bool {
	return !c.config.OfflineMode && c.config.APIURL != ""
}

// Initialize probes the server once, loads both entity caches and starts
// the background workers. Later calls are no-ops.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.initialized {
		return nil
	}

	prober := worker.NewConnectivityProber(c.remote, c.monitor, c.config.ProbeInterval)
	if c.connected() {
		prober.Probe(ctx)
	}

	if err := c.cardSets.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize card sets: %w", err)
	}
	if err := c.stats.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize statistics: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if c.connected() {
		coordinator := worker.NewSyncCoordinator(c.engine, c.monitor, c.config.SyncInterval)
		c.startWorker(runCtx, "connectivity-prober", prober.Run)
		c.startWorker(runCtx, "sync-coordinator", coordinator.Run)
	}
	c.initialized = true

	slog.Info("client initialized",
		"component", "client",
		"online", c.monitor.IsOnline(),
		"degraded", c.degraded,
		"offline_mode", c.config.OfflineMode,
	)
	return nil
}

func (c *Client) startWorker(ctx context.Context, name string, fn func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		slog.Debug("worker starting", "component", "client", "worker", name)
		fn(ctx)
		slog.Debug("worker stopped", "component", "client", "worker", name)
	}()
}

// CardSets returns the card set store.
func (c *Client) CardSets() *entity.CardSets { return c.cardSets }

// Statistics returns the study session store.
func (c *Client) Statistics() *entity.Statistics { return c.stats }

// Queue returns the outbox.
func (c *Client) Queue() *outbox.Queue { return c.queue }

// Monitor returns the connectivity monitor.
func (c *Client) Monitor() *connectivity.Monitor { return c.monitor }

// SyncNow runs a sync pass and then refreshes both caches from the server.
// It does nothing while offline.
func (c *Client) SyncNow(ctx context.Context) (syncengine.Result, error) {
	if err := c.checkOpen(); err != nil {
		return syncengine.Result{}, err
	}
	res := c.engine.SyncPending(ctx)
	if !c.monitor.IsOnline() {
		return res, nil
	}
	err := errors.Join(c.cardSets.Refresh(ctx), c.stats.Refresh(ctx))
	return res, err
}

// Status reports connectivity, queue depth and the last sync pass.
func (c *Client) Status(ctx context.Context) (Status, error) {
	if err := c.checkOpen(); err != nil {
		return Status{}, err
	}
	st := Status{
		Online:   c.monitor.IsOnline(),
		Syncing:  c.engine.IsSyncing(),
		Degraded: c.degraded,
	}

	var err error
	if st.Pending, err = c.queue.Count(ctx); err != nil {
		return st, fmt.Errorf("count pending operations: %w", err)
	}
	if st.LastSync, err = c.engine.LastSync(ctx); err != nil {
		return st, fmt.Errorf("read last sync: %w", err)
	}
	if st.LastResult, err = c.engine.LastResult(ctx); err != nil {
		return st, fmt.Errorf("read last sync result: %w", err)
	}
	if v, ok := c.store.(versioned); ok {
		if st.SchemaVersion, err = v.Version(ctx); err != nil {
			return st, fmt.Errorf("read schema version: %w", err)
		}
	}
	return st, nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Shutdown stops the workers, attempts a final sync while online and closes
// the local cache. Calling it again is a no-op.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.cardSets.Close()
	c.stats.Close()

	if c.connected() && c.monitor.IsOnline() {
		res := c.engine.SyncPending(ctx)
		slog.Debug("final sync completed",
			"component", "client",
			"success", res.Success,
			"failed", res.Failed,
		)
	}
	return c.store.Close()
}
