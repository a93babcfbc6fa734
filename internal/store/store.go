package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection names a logical record collection.
type Collection string

const (
	CollectionCardSets          Collection = "cardsets"
	CollectionStatistics        Collection = "statistics"
	CollectionPendingOperations Collection = "pending_operations"
	CollectionSyncMetadata      Collection = "sync_metadata"
)

// Collections lists every collection a store must provide.
var Collections = []Collection{
	CollectionCardSets,
	CollectionStatistics,
	CollectionPendingOperations,
	CollectionSyncMetadata,
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Record is a single keyed value inside a collection.
type Record struct {
	Key   string
	Value json.RawMessage
}

// Store defines the contract for keyed record persistence.
// Each call is atomic on its own; there are no multi-call transactions.
type Store interface {
	// Init prepares the store. It is idempotent: only the first call does work
	// and later calls return the first call's result.
	Init(ctx context.Context) error
	Put(ctx context.Context, c Collection, key string, value []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, c Collection, key string) ([]byte, error)
	// GetAll returns the collection in first-insertion order.
	GetAll(ctx context.Context, c Collection) ([]Record, error)
	Delete(ctx context.Context, c Collection, key string) error
	Clear(ctx context.Context, c Collection) error
	Close() error
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, c Collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", c, key, err)
	}
	return s.Put(ctx, c, key, data)
}

// GetJSON loads key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, c Collection, key string, v any) error {
	data, err := s.Get(ctx, c, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", c, key, err)
	}
	return nil
}
