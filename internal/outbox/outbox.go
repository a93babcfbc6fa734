// Package outbox is the durable queue of locally applied mutations that
// still have to reach the server.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/types"
)

// Queue persists pending operations in the pending_operations collection.
// It never performs network I/O.
type Queue struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for operation timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a Queue over s.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{store: s, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records payload as a new pending operation stamped with the
// current time.
func (q *Queue) Enqueue(ctx context.Context, payload types.Payload) (types.PendingOperation, error) {
	op := types.NewPendingOperation(ulid.Make().String(), payload, q.now())

	data, err := json.Marshal(op)
	if err != nil {
		return types.PendingOperation{}, fmt.Errorf("marshal operation: %w", err)
	}
	if err := q.store.Put(ctx, store.CollectionPendingOperations, op.ID, data); err != nil {
		return types.PendingOperation{}, fmt.Errorf("enqueue %s %s: %w", op.Entity, op.Type, err)
	}

	slog.Debug("operation queued",
		"component", "outbox",
		"operation_id", op.ID,
		"entity", op.Entity,
		"type", op.Type,
	)
	return op, nil
}

// ListPending returns every pending operation ordered by timestamp, with
// ties kept in insertion order. Records that cannot be decoded are returned
// with an UnknownPayload so that replay fails them and eventually drops them.
func (q *Queue) ListPending(ctx context.Context) ([]types.PendingOperation, error) {
	records, err := q.store.GetAll(ctx, store.CollectionPendingOperations)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}

	ops := make([]types.PendingOperation, 0, len(records))
	for _, rec := range records {
		var op types.PendingOperation
		if err := json.Unmarshal(rec.Value, &op); err != nil {
			slog.Warn("unreadable pending operation",
				"component", "outbox",
				"operation_id", rec.Key,
				"error", err,
			)
			op = unreadable(rec)
		}
		ops = append(ops, op)
	}

	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Timestamp < ops[j].Timestamp
	})
	return ops, nil
}

// unreadable wraps an undecodable record. Its timestamp comes from the ULID
// key; a key that is not a ULID yields timestamp 0, which is always stale.
func unreadable(rec store.Record) types.PendingOperation {
	op := types.PendingOperation{
		ID:      rec.Key,
		Payload: types.UnknownPayload{Data: rec.Value},
	}
	if id, err := ulid.Parse(rec.Key); err == nil {
		op.Timestamp = int64(id.Time())
	}
	return op
}

// Remove deletes the operation with id. Removing an unknown id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, store.CollectionPendingOperations, id); err != nil {
		return fmt.Errorf("remove operation %s: %w", id, err)
	}
	return nil
}

// Clear drops every pending operation.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.store.Clear(ctx, store.CollectionPendingOperations); err != nil {
		return fmt.Errorf("clear pending operations: %w", err)
	}
	return nil
}

// Count returns the number of stored operations.
func (q *Queue) Count(ctx context.Context) (int, error) {
	records, err := q.store.GetAll(ctx, store.CollectionPendingOperations)
	if err != nil {
		return 0, fmt.Errorf("count pending operations: %w", err)
	}
	return len(records), nil
}
