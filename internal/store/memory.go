package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps collections in process memory. It is used when the
// persistent store cannot be opened and in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[Collection]*memoryCollection
	closed      bool
}

type memoryCollection struct {
	values map[string][]byte
	order  []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore with every collection present.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{collections: make(map[Collection]*memoryCollection, len(Collections))}
	for _, c := range Collections {
		m.collections[c] = &memoryCollection{values: make(map[string][]byte)}
	}
	return m
}

// Init is a no-op.
func (m *MemoryStore) Init(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) collection(c Collection) (*memoryCollection, error) {
	if m.closed {
		return nil, ErrClosed
	}
	col, ok := m.collections[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return col, nil
}

func (m *MemoryStore) Put(ctx context.Context, c Collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, err := m.collection(c)
	if err != nil {
		return err
	}
	if _, exists := col.values[key]; !exists {
		col.order = append(col.order, key)
	}
	col.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, err := m.collection(c)
	if err != nil {
		return nil, err
	}
	v, ok := col.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, err := m.collection(c)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(col.order))
	for _, key := range col.order {
		records = append(records, Record{Key: key, Value: append([]byte(nil), col.values[key]...)})
	}
	return records, nil
}

func (m *MemoryStore) Delete(ctx context.Context, c Collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, err := m.collection(c)
	if err != nil {
		return err
	}
	if _, ok := col.values[key]; !ok {
		return nil
	}
	delete(col.values, key)
	for i, k := range col.order {
		if k == key {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, c Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, err := m.collection(c)
	if err != nil {
		return err
	}
	col.values = make(map[string][]byte)
	col.order = nil
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
