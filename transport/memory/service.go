// Package memory implements transport.Service and transport.EventSource in
// process. It serves tests, demos and offline use, and also records the calls
// it receives.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// Call is one recorded invocation.
type Call struct {
	Verb   string
	ID     any
	Params transport.Params
}

// Pagination makes Find answer with a paginated envelope.
type Pagination struct {
	Default int
	Max     int
}

// Service is an in-memory remote resource.
type Service struct {
	mu      sync.RWMutex
	idField string
	ids     []string
	items   map[string]*record.Record
	nextID  func() any
	page    *Pagination
	opts    query.Options
	latency time.Duration
	now     func() time.Time

	failures map[string][]error
	calls    []Call

	subsMu  sync.Mutex
	subs    map[int]func(transport.Event)
	nextSub int
}

// Option configures the service.
type Option func(*Service)

// WithIDField sets the field ids are stored under. Defaults to "id".
func WithIDField(field string) Option {
	return func(s *Service) {
		if field != "" {
			s.idField = field
		}
	}
}

// WithIDGenerator overrides the id assigned to created records. The default
// yields 1, 2, 3...
func WithIDGenerator(fn func() any) Option {
	return func(s *Service) {
		if fn != nil {
			s.nextID = fn
		}
	}
}

// WithPagination answers Find with a {total, limit, skip, data} page.
func WithPagination(def, max int) Option {
	return func(s *Service) {
		s.page = &Pagination{Default: def, Max: max}
	}
}

// WithQueryOptions sets the server side query options.
func WithQueryOptions(opts query.Options) Option {
	return func(s *Service) {
		s.opts = opts
	}
}

// WithLatency delays every call. The delay honors context cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Service) {
		s.latency = d
	}
}

// WithClock sets the clock used for createdAt and updatedAt stamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates an empty service.
func New(opts ...Option) *Service {
	s := &Service{
		idField:  "id",
		items:    make(map[string]*record.Record),
		failures: make(map[string][]error),
		subs:     make(map[int]func(transport.Event)),
	}
	n := 0
	s.nextID = func() any {
		n++
		return n
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ transport.Service = (*Service)(nil)
var _ transport.EventSource = (*Service)(nil)

// Seed stores records without emitting events. Records without an id get one.
func (s *Service) Seed(recs ...*record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.insertLocked(r.Clone())
	}
}

// FailNext makes the next call of verb return err. Calls queue up.
func (s *Service) FailNext(verb string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[verb] = append(s.failures[verb], err)
}

// Calls returns the recorded calls in order.
func (s *Service) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times verb was called.
func (s *Service) CallCount(verb string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.calls {
		if c.Verb == verb {
			n++
		}
	}
	return n
}

// Len returns the number of stored records.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Subscribe implements transport.EventSource.
func (s *Service) Subscribe(fn func(transport.Event)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Emit delivers an event to subscribers as if another client had written.
func (s *Service) Emit(typ transport.EventType, r *record.Record) {
	s.subsMu.Lock()
	fns := make([]func(transport.Event), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(transport.Event{Type: typ, Record: r.Clone()})
	}
}

// begin records the call, applies latency and pops an injected failure.
func (s *Service) begin(ctx context.Context, verb string, id any, params transport.Params) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Verb: verb, ID: id, Params: transport.Params{Query: params.Query.Clone(), Extra: params.Extra}})
	var injected error
	if queue := s.failures[verb]; len(queue) > 0 {
		injected = queue[0]
		s.failures[verb] = queue[1:]
	}
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return injected
}

// Find implements transport.Service.
func (s *Service) Find(ctx context.Context, params transport.Params) (transport.Page, error) {
	if err := s.begin(ctx, "find", nil, params); err != nil {
		return transport.Page{}, err
	}

	q := params.Query.Clone()
	if q == nil {
		q = query.Query{}
	}
	if s.page != nil {
		limit := s.page.Default
		if v, ok := q[query.KeyLimit]; ok {
			p, err := query.Parse(query.Query{query.KeyLimit: v}, query.Options{})
			if err != nil {
				return transport.Page{}, err
			}
			limit = p.Limit
		}
		if s.page.Max > 0 && limit > s.page.Max {
			limit = s.page.Max
		}
		if _, given := q[query.KeyLimit]; given || limit > 0 {
			q[query.KeyLimit] = limit
		}
	}

	s.mu.RLock()
	candidates := make([]*record.Record, 0, len(s.ids))
	for _, key := range s.ids {
		candidates = append(candidates, s.items[key])
	}
	res, err := query.Run(candidates, q, s.opts)
	s.mu.RUnlock()
	if err != nil {
		return transport.Page{}, err
	}

	data := make([]*record.Record, len(res.Data))
	for i, r := range res.Data {
		data[i] = r.Clone()
	}
	if s.page == nil {
		return transport.List(data...), nil
	}
	_, hasLimit := q[query.KeyLimit]
	return transport.Page{
		Data:      data,
		Total:     res.Total,
		Limit:     res.Limit,
		Skip:      res.Skip,
		Paginated: true,
		HasLimit:  hasLimit,
		HasSkip:   true,
	}, nil
}

// Get implements transport.Service.
func (s *Service) Get(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	if err := s.begin(ctx, "get", id, params); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Create implements transport.Service. Records keep every field they were sent
// with, client temp ids included.
func (s *Service) Create(ctx context.Context, data []*record.Record, params transport.Params) ([]*record.Record, error) {
	if err := s.begin(ctx, "create", nil, params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]*record.Record, len(data))
	for i, r := range data {
		stored := record.New(r.Map())
		s.stamp(stored, "createdAt")
		s.insertLocked(stored)
		out[i] = stored.Clone()
	}
	s.mu.Unlock()

	for _, r := range out {
		s.Emit(transport.EventCreated, r)
	}
	return out, nil
}

// Update implements transport.Service. The stored record is replaced.
func (s *Service) Update(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	if err := s.begin(ctx, "update", id, params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	existing, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := record.MustKey(existing.Value(s.idField))
	replaced := record.New(data.Map())
	replaced.Set(s.idField, existing.Value(s.idField))
	s.stamp(replaced, "updatedAt")
	s.items[key] = replaced
	out := replaced.Clone()
	s.mu.Unlock()

	s.Emit(transport.EventUpdated, out)
	return out, nil
}

// Patch implements transport.Service. Only the given fields change.
func (s *Service) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	if err := s.begin(ctx, "patch", id, params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	existing, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for k, v := range data.Map() {
		if k == s.idField {
			continue
		}
		existing.Set(k, v)
	}
	s.stamp(existing, "updatedAt")
	out := existing.Clone()
	s.mu.Unlock()

	s.Emit(transport.EventPatched, out)
	return out, nil
}

// Remove implements transport.Service.
func (s *Service) Remove(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	if err := s.begin(ctx, "remove", id, params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	existing, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := record.MustKey(existing.Value(s.idField))
	delete(s.items, key)
	for i, k := range s.ids {
		if k == key {
			s.ids = append(s.ids[:i:i], s.ids[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.Emit(transport.EventRemoved, existing)
	return existing.Clone(), nil
}

func (s *Service) lookupLocked(id any) (*record.Record, error) {
	key, ok := record.Key(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", transport.ErrNotFound, id)
	}
	r, ok := s.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", transport.ErrNotFound, id)
	}
	return r, nil
}

func (s *Service) insertLocked(r *record.Record) {
	id, ok := r.Get(s.idField)
	if !ok || id == nil {
		// skip ids taken by seeded or client supplied records
		for attempt := 0; attempt <= len(s.items); attempt++ {
			id = s.nextID()
			if _, taken := s.items[record.MustKey(id)]; !taken {
				break
			}
		}
		r.Set(s.idField, id)
	}
	key := record.MustKey(id)
	if _, exists := s.items[key]; !exists {
		s.ids = append(s.ids, key)
	}
	s.items[key] = r
}

func (s *Service) stamp(r *record.Record, field string) {
	if s.now != nil {
		r.Set(field, s.now())
	}
}
