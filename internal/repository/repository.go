// Package repository is the persistence layer of the reference API server.
// Records live in the same keyed store the client uses for its cache.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// Repository assigns server ids and timestamps and persists card sets and
// study sessions.
type Repository struct {
	store store.Store
	now   func() time.Time

	// mu serializes read-modify-write sequences.
	mu sync.Mutex
}

// New creates a repository over s.
func New(s store.Store, opts ...Option) *Repository {
	r := &Repository{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newID() string {
	return ulid.Make().String()
}

// assignCardIDs gives every card without an id a random one.
func assignCardIDs(cards []types.Card) []types.Card {
	out := make([]types.Card, len(cards))
	copy(out, cards)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}

func list[T types.Entity](ctx context.Context, s store.Store, c store.Collection) ([]T, error) {
	records, err := s.GetAll(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", c, rec.Key, err)
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Updated().After(out[j].Updated())
	})
	return out, nil
}

func get[T types.Entity](ctx context.Context, s store.Store, c store.Collection, id string) (T, error) {
	var v T
	err := store.GetJSON(ctx, s, c, id, &v)
	if errors.Is(err, store.ErrNotFound) {
		return v, fmt.Errorf("%s %s: %w", c, id, ErrNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("get %s %s: %w", c, id, err)
	}
	return v, nil
}

func put[T types.Entity](ctx context.Context, s store.Store, c store.Collection, v T) error {
	if err := store.PutJSON(ctx, s, c, v.EntityID(), v); err != nil {
		return fmt.Errorf("put %s %s: %w", c, v.EntityID(), err)
	}
	return nil
}

func remove(ctx context.Context, s store.Store, c store.Collection, id string) error {
	if _, err := s.Get(ctx, c, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s %s: %w", c, id, ErrNotFound)
		}
		return fmt.Errorf("get %s %s: %w", c, id, err)
	}
	if err := s.Delete(ctx, c, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", c, id, err)
	}
	return nil
}

// ListCardSets returns all card sets, most recently updated first.
func (r *Repository) ListCardSets(ctx context.Context) ([]types.CardSet, error) {
	return list[types.CardSet](ctx, r.store, store.CollectionCardSets)
}

// GetCardSet returns one card set.
func (r *Repository) GetCardSet(ctx context.Context, id string) (types.CardSet, error) {
	return get[types.CardSet](ctx, r.store, store.CollectionCardSets, id)
}

// CreateCardSet stores a new card set under a fresh id.
func (r *Repository) CreateCardSet(ctx context.Context, in types.CardSetInput) (types.CardSet, error) {
	in.Cards = assignCardIDs(in.Cards)
	cs := types.NewCardSet(newID(), in, r.now())
	if err := put(ctx, r.store, store.CollectionCardSets, cs); err != nil {
		return types.CardSet{}, err
	}
	return cs, nil
}

// UpdateCardSet replaces the editable fields of an existing card set.
// Identity, ownership and creation time are kept from the stored record.
func (r *Repository) UpdateCardSet(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.GetCardSet(ctx, id)
	if err != nil {
		return types.CardSet{}, err
	}
	cs.ID = existing.ID
	cs.UserID = existing.UserID
	cs.CreatedAt = existing.CreatedAt
	cs.DownloadCount = existing.DownloadCount
	cs.Cards = assignCardIDs(cs.Cards)
	cs.UpdatedAt = r.now()

	if err := put(ctx, r.store, store.CollectionCardSets, cs); err != nil {
		return types.CardSet{}, err
	}
	return cs, nil
}

// DeleteCardSet removes a card set.
func (r *Repository) DeleteCardSet(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(ctx, r.store, store.CollectionCardSets, id)
}

// ListSessions returns all study sessions, most recently updated first.
func (r *Repository) ListSessions(ctx context.Context) ([]types.StudySession, error) {
	return list[types.StudySession](ctx, r.store, store.CollectionStatistics)
}

// GetSession returns one study session.
func (r *Repository) GetSession(ctx context.Context, id string) (types.StudySession, error) {
	return get[types.StudySession](ctx, r.store, store.CollectionStatistics, id)
}

// CreateSession stores a new study session with derived totals.
func (r *Repository) CreateSession(ctx context.Context, in types.SessionInput) (types.StudySession, error) {
	s := types.NewStudySession(newID(), in, r.now())
	if err := put(ctx, r.store, store.CollectionStatistics, s); err != nil {
		return types.StudySession{}, err
	}
	return s, nil
}

// UpdateSession replaces an existing session. Totals are recomputed from the
// attempts rather than trusted from the caller.
func (r *Repository) UpdateSession(ctx context.Context, id string, s types.StudySession) (types.StudySession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.GetSession(ctx, id)
	if err != nil {
		return types.StudySession{}, err
	}
	s.ID = existing.ID
	s.UserID = existing.UserID
	s.CreatedAt = existing.CreatedAt
	s.Summarize()
	s.UpdatedAt = r.now()

	if err := put(ctx, r.store, store.CollectionStatistics, s); err != nil {
		return types.StudySession{}, err
	}
	return s, nil
}

// DeleteSession removes a study session.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(ctx, r.store, store.CollectionStatistics, id)
}

// Ping reports whether the backing store answers.
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.store.GetAll(ctx, store.CollectionSyncMetadata)
	return err
}
