package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// storeFactories runs the same contract against every Store implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"sqlite": func() Store {
			return NewSQLiteStore(filepath.Join(t.TempDir(), "local.db"))
		},
		"memory": func() Store {
			return NewMemoryStore()
		},
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			defer s.Close()

			if err := s.Put(ctx, CollectionCardSets, "cs-1", []byte(`{"id":"cs-1"}`)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := s.Get(ctx, CollectionCardSets, "cs-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != `{"id":"cs-1"}` {
				t.Errorf("Get() = %s, want %s", got, `{"id":"cs-1"}`)
			}
		})
	}
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			_, err := s.Get(context.Background(), CollectionStatistics, "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_GetAllKeepsInsertionOrder(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			defer s.Close()

			for _, key := range []string{"c", "a", "b"} {
				if err := s.Put(ctx, CollectionPendingOperations, key, []byte(`"`+key+`"`)); err != nil {
					t.Fatalf("Put(%s) error = %v", key, err)
				}
			}
			// Overwriting must not move the record.
			if err := s.Put(ctx, CollectionPendingOperations, "c", []byte(`"c2"`)); err != nil {
				t.Fatalf("Put(c) error = %v", err)
			}

			records, err := s.GetAll(ctx, CollectionPendingOperations)
			if err != nil {
				t.Fatalf("GetAll() error = %v", err)
			}
			want := []string{"c", "a", "b"}
			if len(records) != len(want) {
				t.Fatalf("GetAll() returned %d records, want %d", len(records), len(want))
			}
			for i, rec := range records {
				if rec.Key != want[i] {
					t.Errorf("records[%d].Key = %q, want %q", i, rec.Key, want[i])
				}
			}
			if string(records[0].Value) != `"c2"` {
				t.Errorf("records[0].Value = %s, want %s", records[0].Value, `"c2"`)
			}
		})
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			defer s.Close()

			for _, key := range []string{"k1", "k2", "k3"} {
				if err := s.Put(ctx, CollectionSyncMetadata, key, []byte(`1`)); err != nil {
					t.Fatalf("Put(%s) error = %v", key, err)
				}
			}

			if err := s.Delete(ctx, CollectionSyncMetadata, "k2"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := s.Delete(ctx, CollectionSyncMetadata, "missing"); err != nil {
				t.Errorf("Delete(missing) error = %v, want nil", err)
			}

			records, _ := s.GetAll(ctx, CollectionSyncMetadata)
			if len(records) != 2 || records[0].Key != "k1" || records[1].Key != "k3" {
				t.Errorf("after delete got %+v, want k1,k3", records)
			}

			if err := s.Clear(ctx, CollectionSyncMetadata); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			records, _ = s.GetAll(ctx, CollectionSyncMetadata)
			if len(records) != 0 {
				t.Errorf("after clear got %d records, want 0", len(records))
			}
		})
	}
}

func TestStore_CollectionsAreIsolated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			defer s.Close()

			if err := s.Put(ctx, CollectionCardSets, "same", []byte(`"cardset"`)); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, CollectionStatistics, "same", []byte(`"stat"`)); err != nil {
				t.Fatal(err)
			}
			if err := s.Clear(ctx, CollectionStatistics); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, CollectionCardSets, "same")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != `"cardset"` {
				t.Errorf("Get() = %s, want %s", got, `"cardset"`)
			}
		})
	}
}

func TestStore_UnknownCollection(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			err := s.Put(context.Background(), Collection("users"), "k", []byte(`1`))
			if !errors.Is(err, ErrUnknownCollection) {
				t.Errorf("Put() error = %v, want ErrUnknownCollection", err)
			}
		})
	}
}

func TestStore_ClosedRejectsCalls(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			if err := s.Init(context.Background()); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			_, err := s.GetAll(context.Background(), CollectionCardSets)
			if !errors.Is(err, ErrClosed) {
				t.Errorf("GetAll() after Close error = %v, want ErrClosed", err)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type meta struct {
		Key   string `json:"key"`
		Value int64  `json:"value"`
	}

	if err := PutJSON(ctx, s, CollectionSyncMetadata, "last_sync", meta{Key: "last_sync", Value: 42}); err != nil {
		t.Fatalf("PutJSON() error = %v", err)
	}

	var got meta
	if err := GetJSON(ctx, s, CollectionSyncMetadata, "last_sync", &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got.Value != 42 {
		t.Errorf("GetJSON() value = %d, want 42", got.Value)
	}

	if err := GetJSON(ctx, s, CollectionSyncMetadata, "missing", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON(missing) error = %v, want ErrNotFound", err)
	}
}
