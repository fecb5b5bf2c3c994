package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/events"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/registry"
	"github.com/goliatone/go-service-store/store"
	"github.com/goliatone/go-service-store/transport"
	"github.com/goliatone/go-service-store/transport/memory"
)

func rec(fields map[string]any) *record.Record {
	return record.New(fields)
}

func seeded(opts ...memory.Option) *memory.Service {
	svc := memory.New(opts...)
	svc.Seed(
		rec(map[string]any{"id": 1, "text": "a", "done": false}),
		rec(map[string]any{"id": 2, "text": "b", "done": true}),
		rec(map[string]any{"id": 3, "text": "c", "done": false}),
	)
	return svc
}

func newCollection(t *testing.T, svc transport.Service, cfg Config, opts ...Option) *Collection {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "todos"
	}
	c, err := New(svc, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func text(t *testing.T, c *Collection, id any) any {
	t.Helper()
	var v any
	require.True(t, c.Store().View(id, func(r *record.Record) { v = r.Value("text") }))
	return v
}

// spy records the bodies sent to Patch and Update.
type spy struct {
	transport.Service
	mu      sync.Mutex
	patches []*record.Record
	updates []*record.Record
}

func (s *spy) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	s.mu.Lock()
	s.patches = append(s.patches, data.Clone())
	s.mu.Unlock()
	return s.Service.Patch(ctx, id, data, params)
}

func (s *spy) Update(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	s.mu.Lock()
	s.updates = append(s.updates, data.Clone())
	s.mu.Unlock()
	return s.Service.Update(ctx, id, data, params)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing name", cfg: Config{}, want: "Name"},
		{name: "bad name", cfg: Config{Name: "to dos"}, want: "Name"},
		{name: "bad operator", cfg: Config{Name: "todos", Whitelist: []string{"client"}}, want: "Whitelist"},
		{name: "bad id field", cfg: Config{Name: "todos", IDField: "user id"}, want: "IDField"},
		{name: "negative debounce", cfg: Config{Name: "todos", DebounceEvents: -time.Second}, want: "DebounceEvents"},
		{name: "relation without collection", cfg: Config{Name: "todos", Relations: []Relation{{Field: "owner"}}}, want: "Collection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := New(nil, Config{Name: "todos", Relations: []Relation{{Field: "owner", Collection: "users"}}})
	require.ErrorIs(t, err, ErrNoRegistry)

	_, err = New(nil, Config{Name: "todos", Whitelist: []string{"$client"}})
	require.NoError(t, err)
}

func TestCollection_StoreOnly(t *testing.T) {
	c := newCollection(t, nil, Config{})
	ctx := context.Background()

	_, err := c.Find(ctx, FindParams{})
	assert.ErrorIs(t, err, ErrNoTransport)
	_, err = c.Get(ctx, 1, GetParams{})
	assert.ErrorIs(t, err, ErrNoTransport)
	_, err = c.Create(ctx, rec(nil), transport.Params{})
	assert.ErrorIs(t, err, ErrNoTransport)

	c.AddOrUpdate(rec(map[string]any{"id": 1, "age": 21}), rec(map[string]any{"id": 2, "age": 24}))
	res, err := c.FindInStore(query.Params{Query: query.Query{"age": map[string]any{"$gt": 22}}})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 2, res.Data[0].Value("id"))

	n, err := c.CountInStore(query.Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollection_FindReturnsCachedInstances(t *testing.T) {
	c := newCollection(t, seeded(), Config{})

	res, err := c.Find(context.Background(), FindParams{Query: query.Query{"done": false}})
	require.NoError(t, err)
	assert.False(t, res.Paginated)
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Data, 2)

	cached, ok := c.GetFromStore(1)
	require.True(t, ok)
	assert.Same(t, cached, res.Data[0])
	assert.Equal(t, []string{"1", "3"}, c.Store().IDs())
	assert.False(t, c.IsPending(store.VerbFind))
}

func TestCollection_FindAutoRemove(t *testing.T) {
	for _, autoRemove := range []bool{false, true} {
		c := newCollection(t, seeded(), Config{AutoRemove: autoRemove})
		c.AddOrUpdate(rec(map[string]any{"id": 99, "text": "stale"}))
		tmp := c.Store().AddOne(rec(map[string]any{"text": "draft"}))

		_, err := c.Find(context.Background(), FindParams{})
		require.NoError(t, err)

		_, ok := c.GetFromStore(99)
		assert.Equal(t, !autoRemove, ok, "autoRemove=%v", autoRemove)
		_, ok = c.GetFromStore(tmp.Value(record.DefaultTempIDField))
		assert.True(t, ok, "temps survive autoRemove=%v", autoRemove)
	}
}

func TestCollection_FindPaginated(t *testing.T) {
	c := newCollection(t, seeded(memory.WithPagination(2, 10)), Config{})
	q := query.Query{"$limit": 2, "$skip": 0}

	res, err := c.Find(context.Background(), FindParams{Query: q})
	require.NoError(t, err)
	assert.True(t, res.Paginated)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Limit)
	require.Len(t, res.Data, 2)
	assert.NotEmpty(t, res.Pagination.QueryID)

	c.AddOrUpdate(rec(map[string]any{"id": 2, "text": "edited"}))

	page, err := c.FindInStore(query.Params{Query: q, Paginate: true})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, 1, page.Data[0].Value("id"))
	assert.Equal(t, "edited", page.Data[1].Value("text"))

	entry, ok := c.Pagination("")
	require.True(t, ok)
	assert.Equal(t, 3, entry.MostRecent.Total)
}

func TestCollection_FindFailureLeavesStore(t *testing.T) {
	svc := seeded()
	c := newCollection(t, svc, Config{AutoRemove: true})
	ctx := context.Background()
	_, err := c.Find(ctx, FindParams{})
	require.NoError(t, err)

	boom := errors.New("unavailable")
	svc.FailNext("find", boom)
	_, err = c.Find(ctx, FindParams{})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"1", "2", "3"}, c.Store().IDs())
	assert.False(t, c.IsPending(store.VerbFind))
	info := c.ErrorOn(store.VerbFind)
	require.NotNil(t, info)
	assert.Equal(t, "unavailable", info.Message)

	_, err = c.Find(ctx, FindParams{})
	require.NoError(t, err)
	assert.Nil(t, c.ErrorOn(store.VerbFind))
}

func TestCollection_PendingWhileInFlight(t *testing.T) {
	c := newCollection(t, seeded(memory.WithLatency(100*time.Millisecond)), Config{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Find(context.Background(), FindParams{})
		done <- err
	}()

	assert.Eventually(t, func() bool { return c.IsPending(store.VerbFind) }, time.Second, 5*time.Millisecond)
	require.NoError(t, <-done)
	assert.False(t, c.IsPending(store.VerbFind))
}

func TestCollection_GetSkipRequestIfExists(t *testing.T) {
	svc := seeded()
	c := newCollection(t, svc, Config{SkipRequestIfExists: true})
	ctx := context.Background()

	cached := c.AddOrUpdate(rec(map[string]any{"id": 1, "text": "local"}))[0]
	got, err := c.Get(ctx, 1, GetParams{})
	require.NoError(t, err)
	assert.Same(t, cached, got)

	c.Wait()
	assert.Equal(t, 1, svc.CallCount("get"))
	assert.Equal(t, "a", text(t, c, 1))

	_, err = c.Get(ctx, 1, GetParams{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.CallCount("get"))

	got, err = c.Get(ctx, 2, GetParams{})
	require.NoError(t, err)
	assert.Equal(t, "b", got.Value("text"))
	assert.Equal(t, 3, svc.CallCount("get"))

	_, err = c.Get(ctx, 42, GetParams{})
	require.ErrorIs(t, err, transport.ErrNotFound)
	assert.NotNil(t, c.ErrorOn(store.VerbGet))
}

func TestCollection_GetDuringClose(t *testing.T) {
	svc := seeded()
	c := newCollection(t, svc, Config{SkipRequestIfExists: true})
	ctx := context.Background()
	c.AddOrUpdate(rec(map[string]any{"id": 1, "text": "local"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := c.Get(ctx, 1, GetParams{})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		c.Close()
	}()
	wg.Wait()

	calls := svc.CallCount("get")
	_, err := c.Get(ctx, 1, GetParams{})
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, calls, svc.CallCount("get"), "no refresh after close")
}

func TestCollection_CreatePreservesIdentity(t *testing.T) {
	for _, realtime := range []bool{false, true} {
		c := newCollection(t, memory.New(), Config{Realtime: realtime})
		draft := rec(map[string]any{"text": "new"})

		out, err := c.Create(context.Background(), draft, transport.Params{})
		require.NoError(t, err)

		assert.Same(t, draft, out, "realtime=%v", realtime)
		cached, ok := c.GetFromStore(1)
		require.True(t, ok)
		assert.Same(t, draft, cached)
		assert.Empty(t, c.Store().TempIDs())
		assert.False(t, draft.IsTemp())
		assert.Equal(t, 1, draft.Value("id"))
		assert.NotEmpty(t, draft.Value(record.DefaultTempIDField))
	}
}

func TestCollection_CreateFailureKeepsTemp(t *testing.T) {
	svc := memory.New()
	c := newCollection(t, svc, Config{})
	svc.FailNext("create", errors.New("rejected"))

	draft := rec(map[string]any{"text": "new"})
	_, err := c.Create(context.Background(), draft, transport.Params{})
	require.Error(t, err)

	require.Len(t, c.Store().TempIDs(), 1)
	tmp, ok := c.Store().GetTemp(c.Store().TempIDs()[0])
	require.True(t, ok)
	assert.Same(t, draft, tmp)
	assert.True(t, draft.IsTemp())
	assert.Equal(t, "rejected", c.ErrorOn(store.VerbCreate).Message)

	out, err := c.Create(context.Background(), draft, transport.Params{})
	require.NoError(t, err)
	assert.Same(t, draft, out)
	assert.Empty(t, c.Store().TempIDs())
}

func TestCollection_CreateMany(t *testing.T) {
	c := newCollection(t, memory.New(), Config{})
	a := rec(map[string]any{"text": "a"})
	b := rec(map[string]any{"text": "b"})
	withID := rec(map[string]any{"id": 10, "text": "c"})

	out, err := c.CreateMany(context.Background(), []*record.Record{a, b, withID}, transport.Params{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Same(t, a, out[0])
	assert.Same(t, b, out[1])
	assert.Equal(t, 10, out[2].Value("id"))
	assert.Equal(t, []string{"1", "2", "10"}, c.Store().IDs())

	_, err = c.CreateMany(context.Background(), []*record.Record{nil}, transport.Params{})
	require.ErrorIs(t, err, ErrNilRecord)
}

func TestCollection_CreateFromCopy(t *testing.T) {
	c := newCollection(t, memory.New(), Config{})
	draft := c.Store().AddOne(rec(map[string]any{"text": "a"}))
	cp, err := c.Clone(draft)
	require.NoError(t, err)
	cp.Set("text", "edited")

	out, err := c.Create(context.Background(), cp, transport.Params{})
	require.NoError(t, err)
	assert.Same(t, draft, out)
	assert.Equal(t, "edited", text(t, c, 1))

	copyNow, ok := c.Store().Copy(1)
	require.True(t, ok)
	assert.Equal(t, 1, copyNow.Value("id"))
}

func TestCollection_DiffOnPatch(t *testing.T) {
	remote := &spy{Service: seeded()}
	c := newCollection(t, remote, Config{DiffOnPatch: true})
	ctx := context.Background()
	_, err := c.Find(ctx, FindParams{})
	require.NoError(t, err)

	cp, err := c.Clone(1)
	require.NoError(t, err)
	cp.Set("done", true)

	out, err := c.Patch(ctx, 1, cp, transport.Params{})
	require.NoError(t, err)
	require.Len(t, remote.patches, 1)
	assert.Equal(t, map[string]any{"done": true}, remote.patches[0].Map())
	cached, _ := c.GetFromStore(1)
	assert.Same(t, cached, out)
	assert.Equal(t, true, cached.Value("done"))

	again, err := c.Patch(ctx, 1, cp, transport.Params{})
	require.NoError(t, err)
	assert.Same(t, cached, again)
	assert.Len(t, remote.patches, 1)

	prev := rec(map[string]any{"id": 2, "text": "old"})
	_, err = c.PatchFrom(ctx, 2, rec(map[string]any{"id": 2, "text": "b", "done": true}), prev, transport.Params{})
	require.NoError(t, err)
	require.Len(t, remote.patches, 2)
	assert.Equal(t, map[string]any{"text": "b", "done": true}, remote.patches[1].Map())
}

func TestCollection_PatchSendsFullBody(t *testing.T) {
	remote := &spy{Service: seeded()}
	c := newCollection(t, remote, Config{})
	_, err := c.Get(context.Background(), 1, GetParams{})
	require.NoError(t, err)

	cp, err := c.Clone(1)
	require.NoError(t, err)
	cp.Set("done", true)
	_, err = c.Patch(context.Background(), 1, cp, transport.Params{})
	require.NoError(t, err)
	require.Len(t, remote.patches, 1)
	assert.Equal(t, map[string]any{"id": 1, "text": "a", "done": true}, remote.patches[0].Map())
}

func TestCollection_Save(t *testing.T) {
	for _, preferUpdate := range []bool{false, true} {
		remote := &spy{Service: seeded()}
		c := newCollection(t, remote, Config{PreferUpdate: preferUpdate})
		ctx := context.Background()

		created, err := c.Save(ctx, rec(map[string]any{"text": "d"}), transport.Params{})
		require.NoError(t, err)
		assert.Equal(t, 4, created.Value("id"))

		created.Set("text", "e")
		_, err = c.Save(ctx, created, transport.Params{})
		require.NoError(t, err)
		if preferUpdate {
			assert.Len(t, remote.updates, 1)
			assert.Empty(t, remote.patches)
		} else {
			assert.Len(t, remote.patches, 1)
			assert.Empty(t, remote.updates)
		}
		assert.Equal(t, "e", text(t, c, 4))
	}

	c := newCollection(t, seeded(), Config{})
	_, err := c.Save(context.Background(), nil, transport.Params{})
	require.ErrorIs(t, err, ErrNilRecord)
}

func TestCollection_UpdateReplaces(t *testing.T) {
	c := newCollection(t, seeded(), Config{ReplaceItems: true})
	ctx := context.Background()
	r, err := c.Get(ctx, 1, GetParams{})
	require.NoError(t, err)

	out, err := c.Update(ctx, 1, rec(map[string]any{"text": "only"}), transport.Params{})
	require.NoError(t, err)
	assert.Same(t, r, out)
	assert.Equal(t, "only", text(t, c, 1))
	var hasDone bool
	c.Store().View(1, func(r *record.Record) { hasDone = r.Has("done") })
	assert.False(t, hasDone)
}

func TestCollection_RemoveCascadesCopy(t *testing.T) {
	svc := seeded()
	c := newCollection(t, svc, Config{})
	ctx := context.Background()
	_, err := c.Find(ctx, FindParams{})
	require.NoError(t, err)
	_, err = c.Clone(2)
	require.NoError(t, err)

	removed, err := c.Remove(ctx, 2, transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, removed.Value("id"))
	_, ok := c.GetFromStore(2)
	assert.False(t, ok)
	assert.Empty(t, c.Store().CopiesByID())
	assert.Equal(t, 2, svc.Len())

	_, err = c.Remove(ctx, 2, transport.Params{})
	require.ErrorIs(t, err, transport.ErrNotFound)
	assert.NotNil(t, c.ErrorOn(store.VerbRemove))
}

func TestCollection_Realtime(t *testing.T) {
	svc := seeded()
	c := newCollection(t, svc, Config{Realtime: true, DebounceEvents: time.Hour}, WithEventHandlers(events.Handlers{
		Removed: func(*record.Record) (*record.Record, bool) { return nil, false },
	}))
	_, err := c.Find(context.Background(), FindParams{})
	require.NoError(t, err)
	require.NotNil(t, c.Reconciler())

	svc.Emit(transport.EventPatched, rec(map[string]any{"id": 1, "text": "x"}))
	svc.Emit(transport.EventPatched, rec(map[string]any{"id": 1, "text": "y"}))
	svc.Emit(transport.EventRemoved, rec(map[string]any{"id": 2}))
	assert.Equal(t, "a", text(t, c, 1))

	c.Reconciler().Flush()
	assert.Equal(t, "y", text(t, c, 1))
	_, ok := c.GetFromStore(2)
	assert.True(t, ok, "vetoed removal")
	assert.False(t, c.IsPending(store.VerbPatch))
}

func TestCollection_Relations(t *testing.T) {
	reg := NewRegistry()
	users := newCollection(t, nil, Config{Name: "users"}, WithRegistry(reg))
	todos := newCollection(t, seeded(), Config{
		Name:      "todos",
		Relations: []Relation{{Field: "owner", Collection: "users"}, {Field: "watchers", Collection: "users"}},
	}, WithRegistry(reg))

	todo := todos.AddOrUpdate(rec(map[string]any{
		"id":       7,
		"owner":    map[string]any{"id": 1, "name": "ann"},
		"watchers": []any{map[string]any{"id": 2, "name": "bo"}, map[string]any{"id": 1, "name": "ann b"}},
	}))[0]

	owner, ok := users.GetFromStore(1)
	require.True(t, ok)
	assert.Same(t, owner, todo.Value("owner"))
	watchers := todo.Value("watchers").([]any)
	require.Len(t, watchers, 2)
	assert.Same(t, owner, watchers[1])
	assert.Equal(t, "ann b", owner.Value("name"))
	assert.Equal(t, []string{"1", "2"}, users.Store().IDs())
}

func TestCollection_RegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	c, err := New(nil, Config{Name: "todos"}, WithRegistry(reg))
	require.NoError(t, err)

	_, err = New(nil, Config{Name: "todos"}, WithRegistry(reg))
	require.ErrorIs(t, err, registry.ErrDuplicate)

	got, ok := reg.Lookup("todos")
	require.True(t, ok)
	assert.Same(t, c, got)

	c.Close()
	_, ok = reg.Lookup("todos")
	assert.False(t, ok)
	c.Close()
}

func TestCollection_RequestCache(t *testing.T) {
	requests, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	svc := seeded()
	c := newCollection(t, svc, Config{}, WithRequestCache(requests))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Find(ctx, FindParams{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, svc.CallCount("find"))

	_, err = c.Create(ctx, rec(map[string]any{"text": "d"}), transport.Params{})
	require.NoError(t, err)
	res, err := c.Find(ctx, FindParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.CallCount("find"))
	assert.Len(t, res.Data, 4)

	c.InvalidateRequests()
	_, err = c.Find(ctx, FindParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, svc.CallCount("find"))
}

func TestCollection_ChangeFeed(t *testing.T) {
	c := newCollection(t, seeded(), Config{})
	var kinds []store.ChangeKind
	var mu sync.Mutex
	cancel := c.Subscribe(func(ch store.Change) {
		mu.Lock()
		kinds = append(kinds, ch.Kind)
		mu.Unlock()
	})
	defer cancel()

	_, err := c.Find(context.Background(), FindParams{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, store.ChangeStatus)
	assert.Contains(t, kinds, store.ChangeAdded)
}
