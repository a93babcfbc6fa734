package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/flashsync/internal/outbox"
	"github.com/hyperengineering/flashsync/internal/remote"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/syncengine"
	"github.com/hyperengineering/flashsync/internal/types"
)

// mockCardSetAPI is an in-memory server with injectable failures.
type mockCardSetAPI struct {
	mu      sync.Mutex
	records map[string]types.CardSet
	nextID  int
	err     error
	calls   int
	// afterList runs once the list snapshot is taken, outside the lock.
	afterList func()
}

func newMockCardSetAPI() *mockCardSetAPI {
	return &mockCardSetAPI{records: make(map[string]types.CardSet)}
}

func (m *mockCardSetAPI) fail() error {
	m.calls++
	return m.err
}

func (m *mockCardSetAPI) ListCardSets(ctx context.Context) ([]types.CardSet, error) {
	m.mu.Lock()
	if err := m.fail(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var out []types.CardSet
	for _, cs := range m.records {
		out = append(out, cs)
	}
	hook := m.afterList
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *mockCardSetAPI) GetCardSet(ctx context.Context, id string) (types.CardSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return types.CardSet{}, err
	}
	cs, ok := m.records[id]
	if !ok {
		return types.CardSet{}, &remote.RejectedError{StatusCode: 404}
	}
	return cs, nil
}

func (m *mockCardSetAPI) CreateCardSet(ctx context.Context, in types.CardSetInput) (types.CardSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return types.CardSet{}, err
	}
	m.nextID++
	cs := types.NewCardSet(fmt.Sprintf("srv-%d", m.nextID), in, time.Now())
	m.records[cs.ID] = cs
	return cs, nil
}

func (m *mockCardSetAPI) UpdateCardSet(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return types.CardSet{}, err
	}
	if _, ok := m.records[id]; !ok {
		return types.CardSet{}, &remote.RejectedError{StatusCode: 404}
	}
	m.records[id] = cs
	return cs, nil
}

func (m *mockCardSetAPI) DeleteCardSet(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.records[id]; !ok {
		return &remote.RejectedError{StatusCode: 404}
	}
	delete(m.records, id)
	return nil
}

type mockConn struct {
	mu     sync.Mutex
	online bool
}

func (c *mockConn) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *mockConn) set(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

type fixture struct {
	store *store.MemoryStore
	queue *outbox.Queue
	conn  *mockConn
	api   *mockCardSetAPI
	sets  *CardSets
}

func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		conn:  &mockConn{online: online},
		api:   newMockCardSetAPI(),
	}
	f.queue = outbox.New(f.store)
	f.sets = NewCardSets(f.store, f.queue, f.conn, f.api, opts...)
	t.Cleanup(f.sets.Close)
	return f
}

func (f *fixture) pending(t *testing.T) []types.PendingOperation {
	t.Helper()
	ops, err := f.queue.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	return ops
}

func greetings() types.CardSetInput {
	return types.CardSetInput{
		Title: "Greetings",
		Cards: []types.Card{{Terminology: "Hello", Define: "Xin chào"}},
	}
}

func TestInitialize_SeedsEmptyCacheOnce(t *testing.T) {
	f := newFixture(t, false, WithSeed(true))
	ctx := context.Background()

	if err := f.sets.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	first := f.sets.List()
	if err := f.sets.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	second := f.sets.List()

	if len(first) != 3 {
		t.Fatalf("List() after seeding = %d records, want 3", len(first))
	}
	if len(second) != len(first) {
		t.Errorf("second Initialize changed the projection: %d vs %d", len(second), len(first))
	}
	// Newest first: sample 3 is the most recent.
	if first[0].ID != "cardset-sample-3" {
		t.Errorf("List()[0] = %s, want cardset-sample-3", first[0].ID)
	}
}

func TestInitialize_CacheWinsOverSeed(t *testing.T) {
	f := newFixture(t, false, WithSeed(true))
	ctx := context.Background()
	cached := types.NewCardSet("srv-7", greetings(), time.Now())
	if err := store.PutJSON(ctx, f.store, store.CollectionCardSets, cached.ID, cached); err != nil {
		t.Fatal(err)
	}

	if err := f.sets.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	list := f.sets.List()
	if len(list) != 1 || list[0].ID != "srv-7" {
		t.Errorf("List() = %+v, want only the cached record", list)
	}
}

func TestInitialize_OnlineRefreshesInBackground(t *testing.T) {
	f := newFixture(t, true)
	f.api.records["srv-1"] = types.NewCardSet("srv-1", greetings(), time.Now())

	if err := f.sets.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	f.sets.Wait()

	list := f.sets.List()
	if len(list) != 1 || list[0].ID != "srv-1" {
		t.Errorf("List() after refresh = %+v, want srv-1", list)
	}
}

func TestInitialize_RefreshFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, true, WithSeed(true))
	f.api.err = fmt.Errorf("%w: down", remote.ErrNetworkUnavailable)

	if err := f.sets.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v, want nil", err)
	}
	f.sets.Wait()

	if n := len(f.sets.List()); n != 3 {
		t.Errorf("List() = %d records, want the 3 seeds", n)
	}
}

func TestCreate_OfflineQueues(t *testing.T) {
	// Given: An offline store
	f := newFixture(t, false)
	ctx := context.Background()

	// When: Creating a card set
	m, err := f.sets.Create(ctx, greetings())

	// Then: It is visible under a temporary id and queued without error
	if err != nil {
		t.Fatalf("Create() error = %v, want nil", err)
	}
	if m.State != StateQueued {
		t.Errorf("State = %s, want queued", m.State)
	}
	if !strings.HasPrefix(m.Record.ID, "temp_") {
		t.Errorf("ID = %q, want temp_ prefix", m.Record.ID)
	}
	list := f.sets.List()
	if len(list) != 1 || list[0].Title != "Greetings" {
		t.Errorf("List() = %+v, want the new record", list)
	}
	ops := f.pending(t)
	if len(ops) != 1 || ops[0].Type != types.OpCreate || ops[0].Entity != types.EntityCardSet {
		t.Fatalf("pending = %+v, want one cardset create", ops)
	}
	if p, ok := ops[0].Payload.(types.CreateCardSet); !ok || p.TempID != m.Record.ID {
		t.Errorf("payload = %#v, want CreateCardSet for %s", ops[0].Payload, m.Record.ID)
	}
	if f.api.calls != 0 {
		t.Errorf("remote calls = %d, want 0 while offline", f.api.calls)
	}
}

func TestCreate_OnlineConfirms(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	m, err := f.sets.Create(ctx, greetings())

	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if m.State != StateConfirmed || m.Record.ID != "srv-1" {
		t.Errorf("Create() = %s %s, want confirmed srv-1", m.State, m.Record.ID)
	}
	list := f.sets.List()
	if len(list) != 1 || list[0].ID != "srv-1" {
		t.Errorf("List() = %+v, want only srv-1", list)
	}
	records, _ := f.store.GetAll(ctx, store.CollectionCardSets)
	if len(records) != 1 || records[0].Key != "srv-1" {
		t.Errorf("cache = %+v, want only srv-1", records)
	}
	if n := len(f.pending(t)); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestCreate_NetworkFailureQueuesQuietly(t *testing.T) {
	f := newFixture(t, true)
	f.api.err = fmt.Errorf("%w: connection refused", remote.ErrNetworkUnavailable)

	m, err := f.sets.Create(context.Background(), greetings())

	if err != nil {
		t.Fatalf("Create() error = %v, want nil", err)
	}
	if m.State != StateQueued {
		t.Errorf("State = %s, want queued", m.State)
	}
	if f.sets.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", f.sets.LastError())
	}
}

func TestCreate_RejectionQueuesAndSurfaces(t *testing.T) {
	// Given: A server that rejects the input
	f := newFixture(t, true)
	f.api.err = &remote.RejectedError{StatusCode: 422, Problem: remote.Problem{Detail: "title: is required"}}

	// When: Creating
	m, err := f.sets.Create(context.Background(), greetings())

	// Then: The optimistic record stays, the op is queued and the error is surfaced
	var rejected *remote.RejectedError
	if !errors.As(err, &rejected) || rejected.StatusCode != 422 {
		t.Fatalf("Create() error = %v, want 422 rejection", err)
	}
	if m.State != StateQueued || m.Operation == nil {
		t.Errorf("Mutation = %+v, want queued with operation", m)
	}
	if len(f.sets.List()) != 1 {
		t.Error("optimistic record was rolled back")
	}
	if !errors.Is(f.sets.LastError(), remote.ErrRejected) {
		t.Errorf("LastError() = %v, want the rejection", f.sets.LastError())
	}
	f.sets.ClearError()
	if f.sets.LastError() != nil {
		t.Error("ClearError() did not clear")
	}
}

func TestUpdate_OfflineQueuesFullRecord(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	created, err := f.sets.Create(ctx, greetings())
	if err != nil {
		t.Fatal(err)
	}
	f.conn.set(false)

	title := "Greetings v2"
	m, err := f.sets.Update(ctx, created.Record.ID, types.CardSetPatch{Title: &title})

	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if m.State != StateQueued || m.Record.Title != title {
		t.Errorf("Update() = %s %q, want queued %q", m.State, m.Record.Title, title)
	}
	ops := f.pending(t)
	if len(ops) != 1 {
		t.Fatalf("pending = %d, want 1", len(ops))
	}
	p, ok := ops[0].Payload.(types.UpdateCardSet)
	if !ok || p.CardSet.Title != title || len(p.CardSet.Cards) != 1 {
		t.Errorf("payload = %#v, want the full edited record", ops[0].Payload)
	}
}

func TestUpdate_TempRecordQueuesEvenOnline(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	created, _ := f.sets.Create(ctx, greetings())
	f.conn.set(true)

	title := "Renamed"
	m, err := f.sets.Update(ctx, created.Record.ID, types.CardSetPatch{Title: &title})

	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if m.State != StateQueued {
		t.Errorf("State = %s, want queued", m.State)
	}
	if f.api.calls != 0 {
		t.Errorf("remote calls = %d, want 0 for a temp id", f.api.calls)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.sets.Update(context.Background(), "nope", types.CardSetPatch{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name      string
		online    bool
		onServer  bool
		wantState State
		wantOps   int
	}{
		{"online", true, true, StateConfirmed, 0},
		{"online already gone", true, false, StateConfirmed, 0},
		{"offline", false, true, StateQueued, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.online)
			ctx := context.Background()
			cs := types.NewCardSet("srv-1", greetings(), time.Now())
			if tt.onServer {
				f.api.records[cs.ID] = cs
			}
			if err := store.PutJSON(ctx, f.store, store.CollectionCardSets, cs.ID, cs); err != nil {
				t.Fatal(err)
			}
			if err := f.sets.Initialize(ctx); err != nil {
				t.Fatal(err)
			}
			f.sets.Wait()

			m, err := f.sets.Delete(ctx, cs.ID)

			if err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if m.State != tt.wantState {
				t.Errorf("State = %s, want %s", m.State, tt.wantState)
			}
			if n := len(f.sets.List()); n != 0 {
				t.Errorf("List() = %d records, want 0", n)
			}
			if n := len(f.pending(t)); n != tt.wantOps {
				t.Errorf("pending = %d, want %d", n, tt.wantOps)
			}
		})
	}
}

func TestRefresh_MergesServerState(t *testing.T) {
	// Given: A cache holding a temp record, a record deleted on the server,
	// and a record with a queued delete
	ctx := context.Background()
	f := newFixture(t, false)
	now := time.Now()

	temp, _ := f.sets.Create(ctx, greetings())
	gone := types.NewCardSet("srv-gone", greetings(), now)
	doomed := types.NewCardSet("srv-doomed", greetings(), now)
	for _, cs := range []types.CardSet{gone, doomed} {
		if err := store.PutJSON(ctx, f.store, store.CollectionCardSets, cs.ID, cs); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.sets.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sets.Delete(ctx, doomed.ID); err != nil {
		t.Fatal(err)
	}
	f.api.records[doomed.ID] = doomed
	f.api.records["srv-new"] = types.NewCardSet("srv-new", greetings(), now)

	// When: Refreshing
	if err := f.sets.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Then: temp and new are present, gone and doomed are not
	ids := map[string]bool{}
	for _, cs := range f.sets.List() {
		ids[cs.ID] = true
	}
	if !ids[temp.Record.ID] || !ids["srv-new"] {
		t.Errorf("List() ids = %v, want temp and srv-new", ids)
	}
	if ids["srv-gone"] || ids["srv-doomed"] {
		t.Errorf("List() ids = %v, want srv-gone and srv-doomed absent", ids)
	}
	if _, err := f.store.Get(ctx, store.CollectionCardSets, "srv-gone"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("srv-gone still cached, err = %v", err)
	}
}

// refreshAround runs write while a Refresh is between listing the server and
// merging the result.
func refreshAround(t *testing.T, f *fixture, write func()) {
	t.Helper()
	listed := make(chan struct{})
	release := make(chan struct{})
	f.api.afterList = func() {
		close(listed)
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- f.sets.Refresh(context.Background()) }()
	<-listed
	write()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	f.api.afterList = nil
}

func TestRefresh_KeepsRecordConfirmedDuringList(t *testing.T) {
	// Given: A refresh whose server list was taken before the create
	ctx := context.Background()
	f := newFixture(t, true)
	if err := f.sets.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	f.sets.Wait()

	// When: A create is confirmed while the refresh is in flight
	var created Mutation[types.CardSet]
	refreshAround(t, f, func() {
		var err error
		if created, err = f.sets.Create(ctx, greetings()); err != nil {
			t.Errorf("Create() error = %v", err)
		}
	})

	// Then: The confirmed record survives in the projection and the cache
	if created.State != StateConfirmed {
		t.Fatalf("Create() state = %v, want confirmed", created.State)
	}
	list := f.sets.List()
	if len(list) != 1 || list[0].ID != created.Record.ID {
		t.Errorf("List() = %+v, want %s", list, created.Record.ID)
	}
	if _, err := f.store.Get(ctx, store.CollectionCardSets, created.Record.ID); err != nil {
		t.Errorf("confirmed record missing from cache: %v", err)
	}
}

func TestRefresh_KeepsRecordAppliedDuringList(t *testing.T) {
	// Given: A queued create and a refresh listing the server before replay
	ctx := context.Background()
	f := newFixture(t, false)
	if err := f.sets.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	queued, _ := f.sets.Create(ctx, greetings())
	f.conn.set(true)

	// When: The sync pass applies the create while the refresh is in flight
	canonical := types.NewCardSet("srv-7", greetings(), time.Now())
	refreshAround(t, f, func() {
		f.api.mu.Lock()
		f.api.records[canonical.ID] = canonical
		f.api.mu.Unlock()
		if err := store.PutJSON(ctx, f.store, store.CollectionCardSets, canonical.ID, canonical); err != nil {
			t.Error(err)
		}
		f.sets.HandleApplied(syncengine.Applied{
			Operation: types.PendingOperation{Entity: types.EntityCardSet, Type: types.OpCreate},
			LocalID:   queued.Record.ID,
			ServerID:  canonical.ID,
		})
	})

	// Then: The server record is still listed
	list := f.sets.List()
	if len(list) != 1 || list[0].ID != canonical.ID {
		t.Errorf("List() = %+v, want only %s", list, canonical.ID)
	}
}

func TestHandleApplied_ReplacesTempRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	created, _ := f.sets.Create(ctx, greetings())

	// The engine has already swapped the cache entry.
	canonical := types.NewCardSet("srv-42", greetings(), time.Now())
	if err := store.PutJSON(ctx, f.store, store.CollectionCardSets, canonical.ID, canonical); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Delete(ctx, store.CollectionCardSets, created.Record.ID); err != nil {
		t.Fatal(err)
	}

	f.sets.HandleApplied(syncengine.Applied{
		Operation: types.PendingOperation{Entity: types.EntityCardSet, Type: types.OpCreate},
		LocalID:   created.Record.ID,
		ServerID:  canonical.ID,
	})
	// Other entity kinds are ignored.
	f.sets.HandleApplied(syncengine.Applied{
		Operation: types.PendingOperation{Entity: types.EntityStatistics, Type: types.OpDelete},
		LocalID:   canonical.ID,
	})

	list := f.sets.List()
	if len(list) != 1 || list[0].ID != "srv-42" {
		t.Errorf("List() = %+v, want only srv-42", list)
	}
}

func TestFetchOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	cached := types.NewCardSet("srv-1", greetings(), time.Now().Add(-time.Hour))
	if err := store.PutJSON(ctx, f.store, store.CollectionCardSets, cached.ID, cached); err != nil {
		t.Fatal(err)
	}

	// Offline: cache only.
	got, err := f.sets.FetchOne(ctx, "srv-1")
	if err != nil || got.Title != "Greetings" {
		t.Fatalf("FetchOne() offline = %+v, %v", got, err)
	}
	if _, err := f.sets.FetchOne(ctx, "srv-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchOne(missing) error = %v, want ErrNotFound", err)
	}

	// Online: newer server copy wins.
	f.conn.set(true)
	newer := cached
	newer.Title = "Server title"
	newer.UpdatedAt = time.Now()
	f.api.records["srv-1"] = newer

	got, err = f.sets.FetchOne(ctx, "srv-1")
	if err != nil {
		t.Fatalf("FetchOne() online error = %v", err)
	}
	if got.Title != "Server title" {
		t.Errorf("FetchOne() title = %q, want server title", got.Title)
	}

	// Online but failing: cached copy is served.
	f.api.err = remote.ErrNetworkUnavailable
	got, err = f.sets.FetchOne(ctx, "srv-1")
	if err != nil || got.Title != "Server title" {
		t.Errorf("FetchOne() with failing server = %+v, %v", got, err)
	}
}

// ctxRecordingStore remembers the context of the last Get.
type ctxRecordingStore struct {
	store.Store
	mu      sync.Mutex
	lastCtx context.Context
}

func (s *ctxRecordingStore) Get(ctx context.Context, c store.Collection, key string) ([]byte, error) {
	s.mu.Lock()
	s.lastCtx = ctx
	s.mu.Unlock()
	return s.Store.Get(ctx, c, key)
}

func TestHandleApplied_ReadsWithStoreLifetime(t *testing.T) {
	// Given: A closed card set store
	mem := store.NewMemoryStore()
	rec := &ctxRecordingStore{Store: mem}
	sets := NewCardSets(rec, outbox.New(mem), &mockConn{}, newMockCardSetAPI())
	sets.Close()

	// When: A late sync outcome arrives
	sets.HandleApplied(syncengine.Applied{
		Operation: types.PendingOperation{Entity: types.EntityCardSet, Type: types.OpCreate},
		LocalID:   "temp_1_abc",
		ServerID:  "srv-1",
	})

	// Then: The cache read carried the cancelled store context
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastCtx == nil || rec.lastCtx.Err() == nil {
		t.Errorf("HandleApplied read ctx = %v, want a cancelled context", rec.lastCtx)
	}
}
