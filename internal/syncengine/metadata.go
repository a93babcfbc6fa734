package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/flashsync/internal/store"
)

// Metadata keys in the sync_metadata collection.
const (
	KeyLastSync        = "last_sync"
	KeyLastSyncSuccess = "last_sync_success"
	KeyLastSyncFailed  = "last_sync_failed"
	idMapPrefix        = "idmap:"
)

type metadataRecord struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updated_at"`
}

func (e *Engine) setMetadata(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	rec := metadataRecord{Key: key, Value: data, UpdatedAt: e.now().UnixMilli()}
	return store.PutJSON(ctx, e.store, store.CollectionSyncMetadata, key, rec)
}

func (e *Engine) getMetadata(ctx context.Context, key string, out any) error {
	var rec metadataRecord
	if err := store.GetJSON(ctx, e.store, store.CollectionSyncMetadata, key, &rec); err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Value, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// LastSync returns the completion time of the most recent pass. The zero
// time means no pass has completed yet.
func (e *Engine) LastSync(ctx context.Context) (time.Time, error) {
	var ms int64
	err := e.getMetadata(ctx, KeyLastSync, &ms)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// LastResult returns the counts recorded by the most recent pass.
func (e *Engine) LastResult(ctx context.Context) (Result, error) {
	var res Result
	for key, dst := range map[string]*int{
		KeyLastSyncSuccess: &res.Success,
		KeyLastSyncFailed:  &res.Failed,
	} {
		if err := e.getMetadata(ctx, key, dst); err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
	}
	return res, nil
}

func (e *Engine) recordPass(ctx context.Context, res Result) error {
	if err := e.setMetadata(ctx, KeyLastSync, e.now().UnixMilli()); err != nil {
		return err
	}
	if err := e.setMetadata(ctx, KeyLastSyncSuccess, res.Success); err != nil {
		return err
	}
	return e.setMetadata(ctx, KeyLastSyncFailed, res.Failed)
}

// ServerID returns the server id recorded for a temporary id.
func (e *Engine) ServerID(ctx context.Context, tempID string) (string, error) {
	var id string
	if err := e.getMetadata(ctx, idMapPrefix+tempID, &id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnresolvedTempID, tempID)
		}
		return "", err
	}
	return id, nil
}

func (e *Engine) mapID(ctx context.Context, tempID, serverID string) error {
	return e.setMetadata(ctx, idMapPrefix+tempID, serverID)
}
