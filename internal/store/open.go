package store

import (
	"context"
	"errors"
	"log/slog"
)

// Open initializes a SQLite store at dbPath. When the database cannot be
// opened the session continues on a MemoryStore and degraded is true.
// Open never fails.
func Open(ctx context.Context, dbPath string) (s Store, degraded bool) {
	sqlite := NewSQLiteStore(dbPath)
	err := sqlite.Init(ctx)
	if err == nil {
		return sqlite, false
	}

	attrs := []any{"component", "store", "path", dbPath, "error", err}
	if errors.Is(err, ErrStorageUnavailable) {
		slog.Warn("persistent storage unavailable, continuing in memory", attrs...)
	} else {
		slog.Error("persistent storage init failed, continuing in memory", attrs...)
	}
	sqlite.Close()
	return NewMemoryStore(), true
}
