package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteStore_InitIdempotent(t *testing.T) {
	// Given: A fresh store
	ctx := context.Background()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "local.db"))
	defer s.Close()

	// When: Init is called twice around a write
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	if err := s.Put(ctx, CollectionCardSets, "cs-1", []byte(`{}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}

	// Then: The data written in between is untouched
	records, err := s.GetAll(ctx, CollectionCardSets)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("GetAll() returned %d records, want 1", len(records))
	}
}

func TestSQLiteStore_LazyInit(t *testing.T) {
	s := NewSQLiteStore(":memory:")
	defer s.Close()

	// Operations open the database on first use.
	if err := s.Put(context.Background(), CollectionStatistics, "s-1", []byte(`{}`)); err != nil {
		t.Fatalf("Put() without Init error = %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "local.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Put(ctx, CollectionPendingOperations, "op-1", []byte(`{"id":"op-1"}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := NewSQLiteStore(dbPath)
	defer second.Close()
	got, err := second.Get(ctx, CollectionPendingOperations, "op-1")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != `{"id":"op-1"}` {
		t.Errorf("Get() = %s, want %s", got, `{"id":"op-1"}`)
	}
}

func TestSQLiteStore_Version(t *testing.T) {
	s := NewSQLiteStore(":memory:")
	defer s.Close()

	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Version() = %d, want 1", v)
	}
}

func TestSQLiteStore_Pragmas(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "local.db"))
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
	}
}

func TestSQLiteStore_UnavailableStorage(t *testing.T) {
	// Given: A database path whose parent is a regular file
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewSQLiteStore(filepath.Join(blocker, "local.db"))
	defer s.Close()

	// When: Init runs twice
	err1 := s.Init(context.Background())
	err2 := s.Init(context.Background())

	// Then: Both report the same storage failure
	if !errors.Is(err1, ErrStorageUnavailable) {
		t.Fatalf("Init() error = %v, want ErrStorageUnavailable", err1)
	}
	if err1 != err2 {
		t.Errorf("second Init() = %v, want first result %v", err2, err1)
	}
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s, degraded := Open(context.Background(), filepath.Join(blocker, "local.db"))
	defer s.Close()

	if !degraded {
		t.Error("Open() degraded = false, want true")
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open() returned %T, want *MemoryStore", s)
	}
	if err := s.Put(context.Background(), CollectionCardSets, "cs-1", []byte(`{}`)); err != nil {
		t.Errorf("Put() on fallback store error = %v", err)
	}
}

func TestOpen_UsesSQLite(t *testing.T) {
	s, degraded := Open(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	defer s.Close()

	if degraded {
		t.Error("Open() degraded = true, want false")
	}
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open() returned %T, want *SQLiteStore", s)
	}
}
