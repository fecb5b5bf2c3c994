package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
	"github.com/goliatone/go-service-store/transport/memory"
)

var fastRetry = RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name string
		q    query.Query
		want string
	}{
		{name: "empty", q: nil, want: ""},
		{name: "equality", q: query.Query{"name": "a b"}, want: "name=a+b"},
		{name: "operator", q: query.Query{"age": map[string]any{"$gt": 21}}, want: "age[%24gt]=21"},
		{name: "list", q: query.Query{"tag": map[string]any{"$in": []any{"x", "y"}}}, want: "tag[%24in][0]=x&tag[%24in][1]=y"},
		{name: "sort keeps order", q: query.Query{"$sort": query.Desc("b").Asc("a")}, want: "%24sort[b]=-1&%24sort[a]=1"},
		{name: "page", q: query.Query{"$limit": 2, "$skip": 4}, want: "%24limit=2&%24skip=4"},
		{name: "or", q: query.Query{"$or": []any{map[string]any{"a": true}, map[string]any{"b": nil}}}, want: "%24or[0][a]=true&%24or[1][b]=null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeQuery(tt.q))
		})
	}
}

func TestDecodeQuery(t *testing.T) {
	q := query.Query{
		"age":    map[string]any{"$gte": 21, "$lt": 30.5},
		"tag":    map[string]any{"$in": []any{"x", "y"}},
		"$sort":  query.Desc("age").Asc("name"),
		"$limit": 2,
		"done":   false,
		"code":   "007",
	}
	back, err := DecodeQuery(EncodeQuery(q))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"$gte": 21, "$lt": 30.5}, back["age"])
	assert.Equal(t, map[string]any{"$in": []any{"x", "y"}}, back["tag"])
	assert.Equal(t, query.Desc("age").Asc("name"), back["$sort"])
	assert.Equal(t, 2, back["$limit"])
	assert.Equal(t, false, back["done"])
	assert.Equal(t, "007", back["code"])

	appended, err := DecodeQuery("id[$in][]=1&id[$in][]=2")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"$in": []any{1, 2}}, appended["id"])

	_, err = DecodeQuery("a[b=1")
	assert.Error(t, err)
	_, err = DecodeQuery("a=1&a[b]=2")
	assert.Error(t, err)
}

func TestBackoff_ForAttempt(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 50*time.Millisecond, 0)
	assert.Equal(t, 10*time.Millisecond, b.ForAttempt(0))
	assert.Equal(t, 20*time.Millisecond, b.ForAttempt(1))
	assert.Equal(t, 40*time.Millisecond, b.ForAttempt(2))
	assert.Equal(t, 50*time.Millisecond, b.ForAttempt(3))
	assert.Equal(t, 50*time.Millisecond, b.ForAttempt(64))

	j := NewBackoff(100*time.Millisecond, time.Second, 0.5)
	for i := 0; i < 20; i++ {
		d := j.ForAttempt(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	svc, err := New(srv.URL, "todos", WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	r, err := svc.Get(context.Background(), 1, transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), r.Value("id"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"name":"Conflict","message":"taken","code":409,"data":{"field":"email"}}`))
	}))
	defer srv.Close()

	svc, err := New(srv.URL, "users", WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), []*record.Record{record.New(map[string]any{"email": "a"})}, transport.Params{})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusConflict, httpErr.StatusCode)
	assert.Equal(t, "Conflict", httpErr.Name)
	assert.Equal(t, "taken", httpErr.Message)
	assert.False(t, httpErr.Retryable())
	assert.Equal(t, map[string]any{"status": 409, "name": "Conflict", "data": map[string]any{"field": "email"}}, httpErr.ErrorFields())
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Validation(t *testing.T) {
	_, err := NewClient(" ")
	assert.Error(t, err)

	c, err := NewClient("http://example.invalid")
	require.NoError(t, err)
	_, err = c.Do(context.Background(), nil)
	assert.Error(t, err)
	_, err = c.Do(context.Background(), &Request{Path: "/x"})
	assert.Error(t, err)
}

func roundTrip(t *testing.T, opts ...memory.Option) (*Service, *memory.Service) {
	t.Helper()
	backend := memory.New(opts...)
	srv := httptest.NewServer(NewHandler(map[string]transport.Service{"api/todos": backend}))
	t.Cleanup(srv.Close)

	svc, err := New(srv.URL, "/api/todos", WithRetryPolicy(RetryPolicy{MaxRetries: 0}))
	require.NoError(t, err)
	return svc, backend
}

func TestHandler_RoundTrip(t *testing.T) {
	svc, backend := roundTrip(t, memory.WithPagination(10, 50))
	ctx := context.Background()

	created, err := svc.Create(ctx, []*record.Record{record.New(map[string]any{"text": "a", "__id": "tmp1"})}, transport.Params{})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, float64(1), created[0].Value("id"))
	assert.Equal(t, "tmp1", created[0].Value("__id"))

	many, err := svc.Create(ctx, []*record.Record{
		record.New(map[string]any{"text": "b", "n": 2}),
		record.New(map[string]any{"text": "c", "n": 3}),
	}, transport.Params{})
	require.NoError(t, err)
	assert.Len(t, many, 2)

	page, err := svc.Find(ctx, transport.Params{Query: query.Query{"n": map[string]any{"$gte": 2}, "$sort": query.Desc("n")}})
	require.NoError(t, err)
	assert.True(t, page.Paginated)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "c", page.Data[0].Value("text"))

	patched, err := svc.Patch(ctx, 1, record.New(map[string]any{"done": true}), transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, true, patched.Value("done"))

	updated, err := svc.Update(ctx, 1, record.New(map[string]any{"text": "z"}), transport.Params{})
	require.NoError(t, err)
	assert.False(t, updated.Has("done"))

	got, err := svc.Get(ctx, 1, transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, "z", got.Value("text"))

	_, err = svc.Remove(ctx, 1, transport.Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Len())

	_, err = svc.Get(ctx, 1, transport.Params{})
	assert.ErrorIs(t, err, transport.ErrNotFound)

	_, err = svc.Find(ctx, transport.Params{Query: query.Query{"$where": "1"}})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestHandler_PassesHeaders(t *testing.T) {
	svc, backend := roundTrip(t)
	h := http.Header{}
	h.Set("X-Tenant", "acme")

	_, err := svc.Find(context.Background(), transport.Params{Extra: map[string]any{ExtraHeaders: h}})
	require.NoError(t, err)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	got := calls[0].Params.Extra[ExtraHeaders].(http.Header)
	assert.Equal(t, "acme", got.Get("X-Tenant"))
}
