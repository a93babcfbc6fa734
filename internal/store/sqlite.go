package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a SQLite database file.
// The database is opened lazily by the first Init call, explicit or implied.
type SQLiteStore struct {
	path string

	mu      sync.Mutex
	db      *sql.DB
	inited  bool
	initErr error
	closed  bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLiteStore for dbPath without touching the disk.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{path: dbPath}
}

// Init opens the database, applies pragmas and runs migrations.
// Failures are reported as ErrStorageUnavailable.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.inited {
		return s.initErr
	}
	s.inited = true

	db, err := openDatabase(ctx, s.path)
	if err != nil {
		s.initErr = fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		return s.initErr
	}
	s.db = db
	return nil
}

func openDatabase(ctx context.Context, dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas and in-memory databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := enablePragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// conn initializes the store if needed and returns the open handle.
func (s *SQLiteStore) conn(ctx context.Context, c Collection) (*sql.DB, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Put inserts or replaces the value for key. Replacing keeps the record's
// original position in GetAll order.
func (s *SQLiteStore) Put(ctx context.Context, c Collection, key string, value []byte) error {
	db, err := s.conn(ctx, c)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, c)
	if _, err := db.ExecContext(ctx, query, key, value, now); err != nil {
		return fmt.Errorf("put %s/%s: %w", c, key, err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	db, err := s.conn(ctx, c)
	if err != nil {
		return nil, err
	}

	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, c)
	err = db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c, key, err)
	}
	return value, nil
}

// GetAll returns every record of c ordered by first insertion.
func (s *SQLiteStore) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	db, err := s.conn(ctx, c)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT key, value FROM %s ORDER BY rowid ASC`, c))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var value []byte
		if err := rows.Scan(&rec.Key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Value = value
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, c Collection, key string) error {
	db, err := s.conn(ctx, c)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c), key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, key, err)
	}
	return nil
}

// Clear removes every record of c.
func (s *SQLiteStore) Clear(ctx context.Context, c Collection) error {
	db, err := s.conn(ctx, c)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, c)); err != nil {
		return fmt.Errorf("clear %s: %w", c, err)
	}
	return nil
}

// Version returns the schema version applied to the database.
func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx, CollectionSyncMetadata)
	if err != nil {
		return 0, err
	}
	return SchemaVersion(db)
}

// Close closes the database connection. Close is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
