// Package syncengine drains the outbox against the remote API.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/flashsync/internal/conflict"
	"github.com/hyperengineering/flashsync/internal/remote"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/types"
)

// DefaultStaleAfter is how old a failing operation may get before it is
// dropped from the queue.
const DefaultStaleAfter = 7 * 24 * time.Hour

// Queue is the part of the outbox the engine drains.
type Queue interface {
	ListPending(ctx context.Context) ([]types.PendingOperation, error)
	Remove(ctx context.Context, id string) error
}

// Remote is the server API used to apply operations.
type Remote interface {
	CreateCardSet(ctx context.Context, in types.CardSetInput) (types.CardSet, error)
	UpdateCardSet(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error)
	DeleteCardSet(ctx context.Context, id string) error
	CreateSession(ctx context.Context, in types.SessionInput) (types.StudySession, error)
	UpdateSession(ctx context.Context, id string, s types.StudySession) (types.StudySession, error)
	DeleteSession(ctx context.Context, id string) error
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Result counts the outcome of a pass. Dropped operations are also counted
// as failed.
type Result struct {
	Success int
	Failed  int
	Dropped int
}

// Applied describes an operation the server accepted.
type Applied struct {
	Operation types.PendingOperation
	// LocalID is the id the record was cached under before the pass.
	LocalID string
	// ServerID is the canonical id. Empty for deletes.
	ServerID string
}

// Engine runs sync passes. At most one pass runs at a time.
type Engine struct {
	queue      Queue
	store      store.Store
	remote     Remote
	conn       Connectivity
	resolver   *conflict.Resolver
	now        func() time.Time
	staleAfter time.Duration

	syncing atomic.Bool

	mu        sync.Mutex
	observers []func(Applied)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.resolver.Now = now
	}
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.staleAfter = d
	}
}

// New creates an Engine. s is the local store holding the entity caches and
// sync metadata.
func New(q Queue, s store.Store, r Remote, conn Connectivity, opts ...Option) *Engine {
	e := &Engine{
		queue:      q,
		store:      s,
		remote:     r,
		conn:       conn,
		resolver:   conflict.New(),
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnApplied registers fn to be called after each operation the server
// accepts, once the local cache reflects the server's record.
func (e *Engine) OnApplied(fn func(Applied)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// IsSyncing reports whether a pass is running.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// SyncPending runs one pass over the queue. It returns a zero Result when
// offline or when another pass is already running. Failures are counted,
// never returned.
func (e *Engine) SyncPending(ctx context.Context) Result {
	if !e.conn.IsOnline() {
		slog.Debug("sync skipped", "component", "sync", "reason", "offline")
		return Result{}
	}
	if !e.syncing.CompareAndSwap(false, true) {
		slog.Debug("sync skipped", "component", "sync", "reason", "already_syncing")
		return Result{}
	}
	defer e.syncing.Store(false)

	start := time.Now()
	ops, err := e.queue.ListPending(ctx)
	if err != nil {
		slog.Error("failed to list pending operations",
			"component", "sync",
			"error", err,
		)
		return Result{}
	}

	var res Result
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		applied, err := e.apply(ctx, op)
		if err == nil {
			if err := e.queue.Remove(ctx, op.ID); err != nil {
				slog.Error("failed to remove applied operation",
					"component", "sync",
					"operation_id", op.ID,
					"error", err,
				)
			}
			res.Success++
			e.notify(applied)
			continue
		}

		res.Failed++
		if op.Age(e.now()) > e.staleAfter {
			e.drop(ctx, op, err)
			res.Dropped++
			continue
		}
		slog.Warn("operation failed, will retry",
			"component", "sync",
			"operation_id", op.ID,
			"entity", op.Entity,
			"type", op.Type,
			"error", err,
		)
	}

	if err := e.recordPass(ctx, res); err != nil {
		slog.Error("failed to record sync metadata",
			"component", "sync",
			"error", err,
		)
	}

	slog.Info("sync pass completed",
		"component", "sync",
		"pending", len(ops),
		"succeeded", res.Success,
		"failed", res.Failed,
		"dropped", res.Dropped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (e *Engine) drop(ctx context.Context, op types.PendingOperation, cause error) {
	if err := e.queue.Remove(ctx, op.ID); err != nil {
		slog.Error("failed to drop stale operation",
			"component", "sync",
			"operation_id", op.ID,
			"error", err,
		)
		return
	}
	slog.Warn(ErrStaleOperationDropped.Error(),
		"component", "sync",
		"operation_id", op.ID,
		"entity", op.Entity,
		"type", op.Type,
		"age", op.Age(e.now()).String(),
		"error", cause,
	)
}

func (e *Engine) notify(a Applied) {
	e.mu.Lock()
	observers := append([]func(Applied){}, e.observers...)
	e.mu.Unlock()
	for _, fn := range observers {
		fn(a)
	}
}

// apply sends op to the server and folds the server's answer into the
// local cache.
func (e *Engine) apply(ctx context.Context, op types.PendingOperation) (Applied, error) {
	applied := Applied{Operation: op}

	switch p := op.Payload.(type) {
	case types.CreateCardSet:
		cs, err := e.remote.CreateCardSet(ctx, p.Input)
		if err != nil {
			return applied, err
		}
		e.cacheCardSet(ctx, p.TempID, cs)
		e.recordMapping(ctx, p.TempID, cs.ID)
		applied.LocalID, applied.ServerID = p.TempID, cs.ID

	case types.UpdateCardSet:
		id, err := e.resolveID(ctx, p.CardSet.ID)
		if err != nil {
			return applied, err
		}
		rec := p.CardSet
		rec.ID = id
		cs, err := e.remote.UpdateCardSet(ctx, id, rec)
		if err != nil {
			return applied, err
		}
		e.cacheCardSet(ctx, id, cs)
		applied.LocalID, applied.ServerID = p.CardSet.ID, cs.ID

	case types.DeleteCardSet:
		id, err := e.resolveID(ctx, p.ID)
		if err != nil {
			return applied, err
		}
		if err := e.remote.DeleteCardSet(ctx, id); err != nil && !errors.Is(err, remote.ErrNotFound) {
			return applied, err
		}
		applied.LocalID = p.ID

	case types.CreateSession:
		s, err := e.remote.CreateSession(ctx, p.Input)
		if err != nil {
			return applied, err
		}
		e.cacheSession(ctx, p.TempID, s)
		e.recordMapping(ctx, p.TempID, s.ID)
		applied.LocalID, applied.ServerID = p.TempID, s.ID

	case types.UpdateSession:
		id, err := e.resolveID(ctx, p.Session.ID)
		if err != nil {
			return applied, err
		}
		rec := p.Session
		rec.ID = id
		s, err := e.remote.UpdateSession(ctx, id, rec)
		if err != nil {
			return applied, err
		}
		e.cacheSession(ctx, id, s)
		applied.LocalID, applied.ServerID = p.Session.ID, s.ID

	case types.DeleteSession:
		id, err := e.resolveID(ctx, p.ID)
		if err != nil {
			return applied, err
		}
		if err := e.remote.DeleteSession(ctx, id); err != nil && !errors.Is(err, remote.ErrNotFound) {
			return applied, err
		}
		applied.LocalID = p.ID

	case types.UnknownPayload:
		if !p.Kind.Valid() {
			return applied, fmt.Errorf("%w: %q", ErrUnknownEntityType, p.Kind)
		}
		return applied, fmt.Errorf("%w: %q for %s", ErrUnknownOperationType, p.Type, p.Kind)

	default:
		return applied, fmt.Errorf("%w: %T", ErrUnknownOperationType, p)
	}

	return applied, nil
}

// resolveID maps a temporary id to the server id recorded when its create
// was applied. Server ids pass through.
func (e *Engine) resolveID(ctx context.Context, id string) (string, error) {
	if !types.IsTempID(id) {
		return id, nil
	}
	return e.ServerID(ctx, id)
}

func (e *Engine) recordMapping(ctx context.Context, tempID, serverID string) {
	if err := e.mapID(ctx, tempID, serverID); err != nil {
		slog.Error("failed to record id mapping",
			"component", "sync",
			"temp_id", tempID,
			"server_id", serverID,
			"error", err,
		)
	}
}

// cacheCardSet replaces the record cached under localID with the server's
// record. A record deleted locally in the meantime stays deleted. Cache
// errors are logged because the server already accepted the operation.
func (e *Engine) cacheCardSet(ctx context.Context, localID string, canonical types.CardSet) {
	var cached types.CardSet
	err := store.GetJSON(ctx, e.store, store.CollectionCardSets, localID, &cached)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		e.logCacheError(types.EntityCardSet, localID, err)
		return
	}
	cached.ID = canonical.ID
	resolved := e.resolver.CardSet(cached, canonical).Resolved
	e.replace(ctx, store.CollectionCardSets, types.EntityCardSet, localID, canonical.ID, resolved)
}

func (e *Engine) cacheSession(ctx context.Context, localID string, canonical types.StudySession) {
	var cached types.StudySession
	err := store.GetJSON(ctx, e.store, store.CollectionStatistics, localID, &cached)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		e.logCacheError(types.EntityStatistics, localID, err)
		return
	}
	cached.ID = canonical.ID
	resolved := e.resolver.Session(cached, canonical).Resolved
	e.replace(ctx, store.CollectionStatistics, types.EntityStatistics, localID, canonical.ID, resolved)
}

func (e *Engine) replace(ctx context.Context, c store.Collection, kind types.EntityKind, localID, serverID string, rec any) {
	if err := store.PutJSON(ctx, e.store, c, serverID, rec); err != nil {
		e.logCacheError(kind, serverID, err)
		return
	}
	if localID != serverID {
		if err := e.store.Delete(ctx, c, localID); err != nil {
			e.logCacheError(kind, localID, err)
		}
	}
}

func (e *Engine) logCacheError(kind types.EntityKind, id string, err error) {
	slog.Error("failed to update local cache",
		"component", "sync",
		"entity", kind,
		"id", id,
		"error", err,
	)
}
