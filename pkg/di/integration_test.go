package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/service"
	"github.com/goliatone/go-service-store/store"
	"github.com/goliatone/go-service-store/transport"
)

// User represents a test model for integration tests
type User struct {
	ID       string `json:"id" bun:"id,pk"`
	Name     string `json:"name" bun:"name"`
	Email    string `json:"email" bun:"email"`
	CreateTs int64  `json:"create_ts" bun:"create_ts"`
}

// mockUserRepository provides a fake repository implementation for testing
type mockUserRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	callCount map[string]int // Track method calls to verify caching behavior
}

func newMockUserRepository(users ...User) *mockUserRepository {
	m := &mockUserRepository{
		users:     make(map[string]User),
		callCount: make(map[string]int),
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepository) trackCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[method]++
}

func (m *mockUserRepository) getCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount[method]
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (User, error) {
	m.trackCall("GetByID")
	m.mu.RLock()
	user, exists := m.users[id]
	m.mu.RUnlock()
	if !exists {
		return User{}, fmt.Errorf("user %s: %w", id, sql.ErrNoRows)
	}
	return user, nil
}

func (m *mockUserRepository) Get(ctx context.Context, criteria ...repository.SelectCriteria) (User, error) {
	m.trackCall("Get")
	users, _, _ := m.list()
	if len(users) == 0 {
		return User{}, sql.ErrNoRows
	}
	return users[0], nil
}

// List ignores criteria and returns every user ordered by id.
func (m *mockUserRepository) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]User, int, error) {
	m.trackCall("List")
	return m.list()
}

func (m *mockUserRepository) list() ([]User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, len(users), nil
}

func (m *mockUserRepository) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	m.trackCall("Count")
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *mockUserRepository) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (User, error) {
	return m.GetByID(ctx, identifier, criteria...)
}

func (m *mockUserRepository) Create(ctx context.Context, user User, criteria ...repository.InsertCriteria) (User, error) {
	m.trackCall("Create")
	if user.CreateTs == 0 {
		user.CreateTs = time.Now().Unix()
	}
	m.mu.Lock()
	m.users[user.ID] = user
	m.mu.Unlock()
	return user, nil
}

func (m *mockUserRepository) Update(ctx context.Context, user User, criteria ...repository.UpdateCriteria) (User, error) {
	m.trackCall("Update")
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.ID]; !exists {
		return User{}, sql.ErrNoRows
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *mockUserRepository) Delete(ctx context.Context, user User) error {
	m.trackCall("Delete")
	m.mu.Lock()
	delete(m.users, user.ID)
	m.mu.Unlock()
	return nil
}

func (m *mockUserRepository) CreateTx(ctx context.Context, tx bun.IDB, record User, criteria ...repository.InsertCriteria) (User, error) {
	return m.Create(ctx, record, criteria...)
}
func (m *mockUserRepository) CreateMany(ctx context.Context, records []User, criteria ...repository.InsertCriteria) ([]User, error) {
	m.trackCall("CreateMany")
	out := make([]User, 0, len(records))
	for _, record := range records {
		if record.CreateTs == 0 {
			record.CreateTs = time.Now().Unix()
		}
		m.mu.Lock()
		m.users[record.ID] = record
		m.mu.Unlock()
		out = append(out, record)
	}
	return out, nil
}
func (m *mockUserRepository) CreateManyTx(ctx context.Context, tx bun.IDB, records []User, criteria ...repository.InsertCriteria) ([]User, error) {
	return m.CreateMany(ctx, records, criteria...)
}
func (m *mockUserRepository) GetOrCreate(ctx context.Context, record User) (User, error) {
	m.mu.RLock()
	if existing, exists := m.users[record.ID]; exists {
		m.mu.RUnlock()
		return existing, nil
	}
	m.mu.RUnlock()
	return m.Create(ctx, record)
}
func (m *mockUserRepository) GetOrCreateTx(ctx context.Context, tx bun.IDB, record User) (User, error) {
	return m.GetOrCreate(ctx, record)
}
func (m *mockUserRepository) UpdateTx(ctx context.Context, tx bun.IDB, record User, criteria ...repository.UpdateCriteria) (User, error) {
	return m.Update(ctx, record, criteria...)
}
func (m *mockUserRepository) UpdateMany(ctx context.Context, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	for _, record := range records {
		if _, err := m.Update(ctx, record, criteria...); err != nil {
			return nil, err
		}
	}
	return records, nil
}
func (m *mockUserRepository) UpdateManyTx(ctx context.Context, tx bun.IDB, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	return m.UpdateMany(ctx, records, criteria...)
}
func (m *mockUserRepository) Upsert(ctx context.Context, record User, criteria ...repository.UpdateCriteria) (User, error) {
	m.mu.Lock()
	m.users[record.ID] = record
	m.mu.Unlock()
	return record, nil
}
func (m *mockUserRepository) UpsertTx(ctx context.Context, tx bun.IDB, record User, criteria ...repository.UpdateCriteria) (User, error) {
	return m.Upsert(ctx, record, criteria...)
}
func (m *mockUserRepository) UpsertMany(ctx context.Context, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	for _, record := range records {
		m.Upsert(ctx, record, criteria...)
	}
	return records, nil
}
func (m *mockUserRepository) UpsertManyTx(ctx context.Context, tx bun.IDB, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	return m.UpsertMany(ctx, records, criteria...)
}
func (m *mockUserRepository) DeleteTx(ctx context.Context, tx bun.IDB, record User) error {
	return m.Delete(ctx, record)
}
func (m *mockUserRepository) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	m.trackCall("DeleteMany")
	m.mu.Lock()
	m.users = make(map[string]User)
	m.mu.Unlock()
	return nil
}
func (m *mockUserRepository) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return m.DeleteMany(ctx, criteria...)
}
func (m *mockUserRepository) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return m.DeleteMany(ctx, criteria...)
}
func (m *mockUserRepository) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return m.DeleteWhere(ctx, criteria...)
}
func (m *mockUserRepository) ForceDelete(ctx context.Context, record User) error {
	return m.Delete(ctx, record)
}
func (m *mockUserRepository) ForceDeleteTx(ctx context.Context, tx bun.IDB, record User) error {
	return m.ForceDelete(ctx, record)
}
func (m *mockUserRepository) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (User, error) {
	return m.Get(ctx, criteria...)
}
func (m *mockUserRepository) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (User, error) {
	return m.GetByID(ctx, id, criteria...)
}
func (m *mockUserRepository) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]User, int, error) {
	return m.List(ctx, criteria...)
}
func (m *mockUserRepository) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return m.Count(ctx, criteria...)
}
func (m *mockUserRepository) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (User, error) {
	return m.GetByIdentifier(ctx, identifier, criteria...)
}
func (m *mockUserRepository) Raw(ctx context.Context, sql string, args ...any) ([]User, error) {
	return nil, errors.New("raw queries not supported in mock")
}
func (m *mockUserRepository) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]User, error) {
	return m.Raw(ctx, sql, args...)
}
func (m *mockUserRepository) Handlers() repository.ModelHandlers[User] {
	return repository.ModelHandlers[User]{}
}

var _ repository.Repository[User] = (*mockUserRepository)(nil)

func newUsers(t testing.TB, container *Container, repo *mockUserRepository, cfg service.Config) *service.Collection {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "users"
	}
	users, err := NewRepositoryCollection[User](container, repo, cfg)
	require.NoError(t, err)
	t.Cleanup(users.Close)
	return users
}

func userName(c *service.Collection, id string) string {
	var name string
	c.Store().View(id, func(r *record.Record) { name, _ = r.Value("name").(string) })
	return name
}

// TestEndToEndRepositoryCollectionFlow runs reads through the container's
// request cache into the store.
func TestEndToEndRepositoryCollectionFlow(t *testing.T) {
	config := cache.Config{
		Capacity:             100,
		NumShards:            4,
		TTL:                  1 * time.Second,
		EvictionPercentage:   10,
		EarlyRefresh:         nil,
		MissingRecordStorage: true,
		EvictionInterval:     0,
	}

	container, err := NewContainer(config)
	require.NoError(t, err, "Failed to create DI container")

	mockRepo := newMockUserRepository(User{ID: "test-123", Name: "Test User", Email: "test@example.com", CreateTs: 1})
	users := newUsers(t, container, mockRepo, service.Config{})
	ctx := context.Background()

	user1, err := users.Get(ctx, "test-123", service.GetParams{})
	require.NoError(t, err)
	assert.Equal(t, "Test User", userName(users, "test-123"))
	assert.Equal(t, 1, mockRepo.getCallCount("GetByID"))

	user2, err := users.Get(ctx, "test-123", service.GetParams{})
	require.NoError(t, err)
	assert.Same(t, user1, user2, "both gets return the cached instance")
	assert.Equal(t, 1, mockRepo.getCallCount("GetByID"), "second get is a cache hit")

	res, err := users.Find(ctx, service.FindParams{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Same(t, user1, res.Data[0])
	assert.Equal(t, 1, mockRepo.getCallCount("List"))

	_, err = users.Find(ctx, service.FindParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, mockRepo.getCallCount("List"), "second find is a cache hit")

	count, err := users.CountInStore(query.Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, mockRepo.getCallCount("Count"), "CountInStore stays local")
}

// TestCacheEvictionFlow tests that request cache entries expire after TTL
func TestCacheEvictionFlow(t *testing.T) {
	config := cache.Config{
		Capacity:             10,
		NumShards:            2,
		TTL:                  100 * time.Millisecond,
		EvictionPercentage:   10,
		EarlyRefresh:         nil,
		MissingRecordStorage: true,
		EvictionInterval:     50 * time.Millisecond,
	}

	container, err := NewContainer(config)
	require.NoError(t, err, "Failed to create DI container")

	mockRepo := newMockUserRepository(User{ID: "eviction-test", Name: "Eviction Test User"})
	users := newUsers(t, container, mockRepo, service.Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := users.Get(ctx, "eviction-test", service.GetParams{})
		require.NoError(t, err, "Get %d", i)
	}
	assert.Equal(t, 1, mockRepo.getCallCount("GetByID"))

	time.Sleep(200 * time.Millisecond)

	_, err = users.Get(ctx, "eviction-test", service.GetParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, mockRepo.getCallCount("GetByID"), "the entry expired")
}

// TestWritesReachRepository verifies writes go to the repository and land in
// the store.
func TestWritesReachRepository(t *testing.T) {
	container, err := NewContainerWithDefaults()
	require.NoError(t, err, "Failed to create DI container")

	mockRepo := newMockUserRepository()
	users := newUsers(t, container, mockRepo, service.Config{})
	ctx := context.Background()

	created, err := users.Create(ctx, record.New(map[string]any{
		"id":    "new-user",
		"name":  "New User",
		"email": "new@example.com",
	}), transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, mockRepo.getCallCount("Create"))
	cached, ok := users.GetFromStore("new-user")
	require.True(t, ok, "the created user is cached")
	assert.Same(t, created, cached)

	patched, err := users.Patch(ctx, "new-user", record.New(map[string]any{"name": "Updated Name"}), transport.Params{})
	require.NoError(t, err)
	assert.Same(t, created, patched, "Patch returns the cached instance")
	assert.Equal(t, "Updated Name", userName(users, "new-user"))
	assert.Equal(t, 1, mockRepo.getCallCount("Update"))

	_, err = users.Remove(ctx, "new-user", transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, mockRepo.getCallCount("Delete"))
	assert.False(t, users.Store().Has("new-user"), "the removed user leaves the store")
}

// TestErrorPropagation verifies repository errors reach the caller and the
// store status, and are not cached.
func TestErrorPropagation(t *testing.T) {
	container, err := NewContainerWithDefaults()
	require.NoError(t, err, "Failed to create DI container")

	mockRepo := newMockUserRepository()
	users := newUsers(t, container, mockRepo, service.Config{})
	ctx := context.Background()

	_, err = users.Get(ctx, "non-existent", service.GetParams{})
	require.ErrorIs(t, err, transport.ErrNotFound)
	assert.NotNil(t, users.ErrorOn(store.VerbGet), "the failure is recorded on the store")

	_, err = users.Get(ctx, "non-existent", service.GetParams{})
	assert.Error(t, err)
	assert.Equal(t, 2, mockRepo.getCallCount("GetByID"), "failed gets are not cached")
}

// TestNewRepositoryCollection_Realtime checks that writes made through one
// collection reach the store from the repository events.
func TestNewRepositoryCollection_Realtime(t *testing.T) {
	container, err := NewContainerWithDefaults()
	require.NoError(t, err, "Failed to create DI container")

	users := newUsers(t, container, newMockUserRepository(), service.Config{Realtime: true})
	require.NotNil(t, users.Reconciler())

	r := record.New(map[string]any{"id": "rt", "name": "Realtime"})
	_, err = users.Create(context.Background(), r, transport.Params{})
	require.NoError(t, err)
	assert.NotZero(t, users.Reconciler().Stats().Applied, "the created event is applied")
	assert.Equal(t, 1, users.Store().Len())
}

func TestNewRepositoryCollection_NilRepository(t *testing.T) {
	container, err := NewContainerWithDefaults()
	require.NoError(t, err, "Failed to create DI container")
	_, err = NewRepositoryCollection[User](container, nil, service.Config{Name: "users"})
	assert.Error(t, err)
}
