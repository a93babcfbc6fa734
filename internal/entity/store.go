// Package entity is the offline-first CRUD facade over the local cache, the
// remote API and the outbox.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hyperengineering/flashsync/internal/conflict"
	"github.com/hyperengineering/flashsync/internal/remote"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/syncengine"
	"github.com/hyperengineering/flashsync/internal/types"
)

// ErrNotFound is returned when a record is neither cached nor reachable.
var ErrNotFound = errors.New("record not found")

// State is the lifecycle position of a mutation.
type State int

const (
	// StatePending means the change is applied locally only.
	StatePending State = iota
	// StateConfirmed means the server accepted the change.
	StateConfirmed
	// StateQueued means the change waits in the outbox for a sync pass.
	StateQueued
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateQueued:
		return "queued"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Mutation is the outcome of Create, Update or Delete.
type Mutation[T types.Entity] struct {
	Record    T
	State     State
	Operation *types.PendingOperation
}

// Queue is the outbox surface used by the store.
type Queue interface {
	Enqueue(ctx context.Context, payload types.Payload) (types.PendingOperation, error)
	ListPending(ctx context.Context) ([]types.PendingOperation, error)
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Adapter binds a Store to one entity type and its remote endpoints.
type Adapter[T types.Entity, In, P any] interface {
	Kind() types.EntityKind
	Collection() store.Collection
	Build(id string, in In, now time.Time) T
	Apply(rec T, patch P, now time.Time) T
	Resolve(local, remote T, now time.Time) conflict.Result[T]
	Seed(now time.Time) []T

	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, in In) (T, error)
	Update(ctx context.Context, id string, rec T) (T, error)
	Delete(ctx context.Context, id string) error

	CreateOp(tempID string, in In) types.Payload
	UpdateOp(rec T) types.Payload
	DeleteOp(id string) types.Payload
}

type options struct {
	now  func() time.Time
	seed bool
}

// Option configures a Store.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSeed enables built-in sample records for an empty cache.
func WithSeed(enabled bool) Option {
	return func(o *options) {
		o.seed = enabled
	}
}

// Store keeps an in-memory projection of one entity type in sync with the
// local cache, and routes mutations to the server or the outbox.
// Callers must serialize mutations of the same id.
type Store[T types.Entity, In, P any] struct {
	adapter Adapter[T, In, P]
	store   store.Store
	queue   Queue
	conn    Connectivity
	opts    options

	initMu      sync.Mutex
	initialized bool

	mu      sync.RWMutex
	records map[string]T
	lastErr error
	// rev counts local writes; touched holds the rev of each id's last
	// write so a refresh can leave alone ids changed after it listed.
	rev     uint64
	touched map[string]uint64

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStore[T types.Entity, In, P any](a Adapter[T, In, P], s store.Store, q Queue, conn Connectivity, opts ...Option) *Store[T, In, P] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Store[T, In, P]{
		adapter: a,
		store:   s,
		queue:   q,
		conn:    conn,
		opts:    o,
		records: make(map[string]T),
		touched: make(map[string]uint64),
		bg:      bg,
		cancel:  cancel,
	}
}

// Initialize loads the cache into memory. An empty cache is seeded when
// seeding is enabled. When online a background refresh from the server is
// started; its failures are logged only. Later calls are no-ops.
func (s *Store[T, In, P]) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}

	records, err := s.store.GetAll(ctx, s.adapter.Collection())
	if err != nil {
		return fmt.Errorf("load %s cache: %w", s.adapter.Kind(), err)
	}

	loaded := make(map[string]T, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			slog.Warn("skipping unreadable cached record",
				"component", "entity",
				"entity", s.adapter.Kind(),
				"id", rec.Key,
				"error", err,
			)
			continue
		}
		loaded[rec.Key] = v
	}
	if len(loaded) == 0 && s.opts.seed {
		for _, v := range s.adapter.Seed(s.opts.now()) {
			loaded[v.EntityID()] = v
		}
	}

	s.mu.Lock()
	s.records = loaded
	s.mu.Unlock()
	s.initialized = true

	slog.Debug("entity cache loaded",
		"component", "entity",
		"entity", s.adapter.Kind(),
		"records", len(loaded),
	)

	if s.conn.IsOnline() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Refresh(s.bg); err != nil {
				slog.Warn("background refresh failed",
					"component", "entity",
					"entity", s.adapter.Kind(),
					"error", err,
				)
			}
		}()
	}
	return nil
}

// Wait blocks until background work started by Initialize has finished.
func (s *Store[T, In, P]) Wait() {
	s.wg.Wait()
}

// Close stops background work.
func (s *Store[T, In, P]) Close() {
	s.cancel()
	s.wg.Wait()
}

// Refresh merges the server's list into the cache. Local temporary records
// and records with a queued delete are kept out of the merge. Cached server
// records the server no longer returns are removed. Ids written locally
// after the server list was requested are left as they are.
func (s *Store[T, In, P]) Refresh(ctx context.Context) error {
	s.mu.RLock()
	start := s.rev
	s.mu.RUnlock()

	remoteRecs, err := s.adapter.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", s.adapter.Kind(), err)
	}
	pendingDeletes, err := s.pendingDeletes(ctx)
	if err != nil {
		return err
	}

	now := s.opts.now()
	seen := make(map[string]bool, len(remoteRecs))
	for _, r := range remoteRecs {
		id := r.EntityID()
		if pendingDeletes[id] {
			continue
		}
		seen[id] = true

		merged := r
		s.mu.RLock()
		cached, ok := s.records[id]
		changed := s.touched[id] > start
		s.mu.RUnlock()
		if changed {
			continue
		}
		if ok {
			merged = s.adapter.Resolve(cached, r, now).Resolved
		}
		if err := s.put(ctx, merged); err != nil {
			return err
		}
	}

	s.mu.RLock()
	var stale []string
	for id := range s.records {
		if !types.IsTempID(id) && !seen[id] && s.touched[id] <= start {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range stale {
		if err := s.removeIfUnchanged(ctx, id, start); err != nil {
			return err
		}
	}

	slog.Debug("entity cache refreshed",
		"component", "entity",
		"entity", s.adapter.Kind(),
		"remote", len(remoteRecs),
		"removed", len(stale),
	)
	return nil
}

func (s *Store[T, In, P]) pendingDeletes(ctx context.Context) (map[string]bool, error) {
	ops, err := s.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	ids := make(map[string]bool)
	for _, op := range ops {
		if op.Entity == s.adapter.Kind() && op.Type == types.OpDelete {
			ids[op.Payload.TargetID()] = true
		}
	}
	return ids, nil
}

// List returns the in-memory projection, most recently updated first.
func (s *Store[T, In, P]) List() []T {
	s.mu.RLock()
	out := make([]T, 0, len(s.records))
	for _, v := range s.records {
		out = append(out, v)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Updated(), out[j].Updated()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].EntityID() < out[j].EntityID()
	})
	return out
}

// FetchOne returns a record, refreshed from the server when online. The
// cached copy is returned when the server cannot be reached.
func (s *Store[T, In, P]) FetchOne(ctx context.Context, id string) (T, error) {
	cached, ok := s.lookup(ctx, id)
	if !s.conn.IsOnline() || types.IsTempID(id) {
		if ok {
			return cached, nil
		}
		var zero T
		return zero, fmt.Errorf("%s %s: %w", s.adapter.Kind(), id, ErrNotFound)
	}

	r, err := s.adapter.Get(ctx, id)
	if err != nil {
		if ok {
			return cached, nil
		}
		var zero T
		if errors.Is(err, remote.ErrNotFound) {
			return zero, fmt.Errorf("%s %s: %w", s.adapter.Kind(), id, ErrNotFound)
		}
		return zero, fmt.Errorf("fetch %s %s: %w", s.adapter.Kind(), id, err)
	}

	merged := r
	if ok {
		merged = s.adapter.Resolve(cached, r, s.opts.now()).Resolved
	}
	if err := s.put(ctx, merged); err != nil {
		slog.Warn("failed to cache fetched record",
			"component", "entity",
			"entity", s.adapter.Kind(),
			"id", id,
			"error", err,
		)
	}
	return merged, nil
}

// Create applies in locally under a temporary id, then either confirms it
// with the server or queues it.
func (s *Store[T, In, P]) Create(ctx context.Context, in In) (Mutation[T], error) {
	now := s.opts.now()
	tempID := types.NewTempID(now)
	m := Mutation[T]{Record: s.adapter.Build(tempID, in, now), State: StatePending}
	if err := s.put(ctx, m.Record); err != nil {
		return m, err
	}

	if !s.conn.IsOnline() {
		return s.enqueue(ctx, m, s.adapter.CreateOp(tempID, in), nil)
	}
	created, err := s.adapter.Create(ctx, in)
	if err != nil {
		return s.enqueue(ctx, m, s.adapter.CreateOp(tempID, in), err)
	}
	if err := s.replace(ctx, tempID, created); err != nil {
		return m, err
	}
	m.Record, m.State = created, StateConfirmed
	return m, nil
}

// Update applies patch locally, then either confirms it with the server or
// queues it. Records that only exist under a temporary id are always queued.
func (s *Store[T, In, P]) Update(ctx context.Context, id string, patch P) (Mutation[T], error) {
	current, ok := s.lookup(ctx, id)
	if !ok {
		return Mutation[T]{}, fmt.Errorf("%s %s: %w", s.adapter.Kind(), id, ErrNotFound)
	}

	m := Mutation[T]{Record: s.adapter.Apply(current, patch, s.opts.now()), State: StatePending}
	if err := s.put(ctx, m.Record); err != nil {
		return m, err
	}

	if !s.conn.IsOnline() || types.IsTempID(id) {
		return s.enqueue(ctx, m, s.adapter.UpdateOp(m.Record), nil)
	}
	updated, err := s.adapter.Update(ctx, id, m.Record)
	if err != nil {
		return s.enqueue(ctx, m, s.adapter.UpdateOp(m.Record), err)
	}
	if err := s.put(ctx, updated); err != nil {
		return m, err
	}
	m.Record, m.State = updated, StateConfirmed
	return m, nil
}

// Delete removes id locally, then either confirms the delete with the
// server or queues it. A server that no longer has the record confirms it.
func (s *Store[T, In, P]) Delete(ctx context.Context, id string) (Mutation[T], error) {
	current, _ := s.lookup(ctx, id)
	m := Mutation[T]{Record: current, State: StatePending}
	if err := s.remove(ctx, id); err != nil {
		return m, err
	}

	if !s.conn.IsOnline() || types.IsTempID(id) {
		return s.enqueue(ctx, m, s.adapter.DeleteOp(id), nil)
	}
	err := s.adapter.Delete(ctx, id)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return s.enqueue(ctx, m, s.adapter.DeleteOp(id), err)
	}
	m.State = StateConfirmed
	return m, nil
}

// enqueue moves m to StateQueued. A network failure is expected offline
// behavior; any other remote error is recorded and returned.
func (s *Store[T, In, P]) enqueue(ctx context.Context, m Mutation[T], payload types.Payload, cause error) (Mutation[T], error) {
	op, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		return m, fmt.Errorf("queue %s %s: %w", payload.Entity(), payload.Op(), err)
	}
	m.State, m.Operation = StateQueued, &op

	if cause == nil {
		return m, nil
	}
	if errors.Is(cause, remote.ErrNetworkUnavailable) {
		slog.Info("server unreachable, operation queued",
			"component", "entity",
			"entity", payload.Entity(),
			"type", payload.Op(),
			"operation_id", op.ID,
		)
		return m, nil
	}

	s.mu.Lock()
	s.lastErr = cause
	s.mu.Unlock()
	slog.Warn("server rejected change, operation queued",
		"component", "entity",
		"entity", payload.Entity(),
		"type", payload.Op(),
		"operation_id", op.ID,
		"error", cause,
	)
	return m, fmt.Errorf("%s %s: %w", payload.Entity(), payload.Op(), cause)
}

// LastError returns the most recent server rejection.
func (s *Store[T, In, P]) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ClearError forgets the last server rejection.
func (s *Store[T, In, P]) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

// HandleApplied folds a sync outcome into the projection. Register it with
// the sync engine's OnApplied.
func (s *Store[T, In, P]) HandleApplied(a syncengine.Applied) {
	if a.Operation.Entity != s.adapter.Kind() {
		return
	}

	var rec T
	var found bool
	if a.ServerID != "" {
		err := store.GetJSON(s.bg, s.store, s.adapter.Collection(), a.ServerID, &rec)
		found = err == nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a.LocalID != a.ServerID {
		delete(s.records, a.LocalID)
		s.touch(a.LocalID)
	}
	if found {
		s.records[a.ServerID] = rec
	}
	if a.ServerID != "" {
		s.touch(a.ServerID)
	}
}

// touch records a local write of id. Callers hold s.mu.
func (s *Store[T, In, P]) touch(id string) {
	s.rev++
	s.touched[id] = s.rev
}

func (s *Store[T, In, P]) lookup(ctx context.Context, id string) (T, bool) {
	s.mu.RLock()
	v, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if err := store.GetJSON(ctx, s.store, s.adapter.Collection(), id, &v); err != nil {
		return v, false
	}
	return v, true
}

func (s *Store[T, In, P]) put(ctx context.Context, v T) error {
	if err := store.PutJSON(ctx, s.store, s.adapter.Collection(), v.EntityID(), v); err != nil {
		return fmt.Errorf("cache %s %s: %w", s.adapter.Kind(), v.EntityID(), err)
	}
	s.mu.Lock()
	s.records[v.EntityID()] = v
	s.touch(v.EntityID())
	s.mu.Unlock()
	return nil
}

func (s *Store[T, In, P]) remove(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, s.adapter.Collection(), id); err != nil {
		return fmt.Errorf("uncache %s %s: %w", s.adapter.Kind(), id, err)
	}
	s.mu.Lock()
	delete(s.records, id)
	s.touch(id)
	s.mu.Unlock()
	return nil
}

// removeIfUnchanged evicts id unless it was written after rev.
func (s *Store[T, In, P]) removeIfUnchanged(ctx context.Context, id string, rev uint64) error {
	s.mu.RLock()
	changed := s.touched[id] > rev
	s.mu.RUnlock()
	if changed {
		return nil
	}
	return s.remove(ctx, id)
}

// replace swaps the record cached under oldID for v.
func (s *Store[T, In, P]) replace(ctx context.Context, oldID string, v T) error {
	if err := s.put(ctx, v); err != nil {
		return err
	}
	if oldID == v.EntityID() {
		return nil
	}
	return s.remove(ctx, oldID)
}
