// Package bunrepo serves a collection from a go-repository-bun repository,
// so a store can sit directly on a SQL table.
//
// Queries are compiled to bun criteria (see Compile). Values of T convert to
// and from records through their JSON form, so T's json tags name the record
// fields.
package bunrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

type config struct {
	idField  string
	columns  map[string]string
	paginate bool
	notFound func(error) bool
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*config)

// WithIDField names the record field holding the primary key. Defaults to "id".
func WithIDField(field string) Option {
	return func(c *config) {
		if field != "" {
			c.idField = field
		}
	}
}

// WithColumns maps record fields to columns. Once set, queries may only use
// the listed fields.
func WithColumns(columns map[string]string) Option {
	return func(c *config) {
		c.columns = make(map[string]string, len(columns))
		for k, v := range columns {
			c.columns[k] = v
		}
	}
}

// WithPagination answers every Find with a paginated page.
func WithPagination() Option {
	return func(c *config) { c.paginate = true }
}

// WithNotFound overrides how repository errors are recognized as missing
// rows. The default matches sql.ErrNoRows.
func WithNotFound(fn func(error) bool) Option {
	return func(c *config) {
		if fn != nil {
			c.notFound = fn
		}
	}
}

// WithLogger sets the logger for conversion failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Service is a transport.Service and transport.EventSource backed by a
// repository. Events are emitted for writes made through the Service.
type Service[T any] struct {
	repo repository.Repository[T]
	cfg  config

	mu      sync.Mutex
	subs    map[int]func(transport.Event)
	nextSub int
}

// New wraps repo.
func New[T any](repo repository.Repository[T], opts ...Option) *Service[T] {
	cfg := config{
		idField:  "id",
		notFound: func(err error) bool { return errors.Is(err, sql.ErrNoRows) },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service[T]{repo: repo, cfg: cfg, subs: make(map[int]func(transport.Event))}
}

var _ transport.Service = (*Service[any])(nil)
var _ transport.EventSource = (*Service[any])(nil)

// Subscribe implements transport.EventSource.
func (s *Service[T]) Subscribe(fn func(transport.Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service[T]) emit(typ transport.EventType, r *record.Record) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(transport.Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(transport.Event{Type: typ, Record: r.Clone()})
	}
}

func (s *Service[T]) wrap(err error, id any) error {
	if err == nil {
		return nil
	}
	if s.cfg.notFound(err) {
		return fmt.Errorf("%w: %v: %v", transport.ErrNotFound, id, err)
	}
	return err
}

// Find implements transport.Service.
func (s *Service[T]) Find(ctx context.Context, params transport.Params) (transport.Page, error) {
	plan, err := Compile(params.Query, s.cfg.columns)
	if err != nil {
		return transport.Page{}, err
	}
	items, total, err := s.repo.List(ctx, plan.Criteria()...)
	if err != nil {
		return transport.Page{}, err
	}
	data, err := s.toRecords(items)
	if err != nil {
		return transport.Page{}, err
	}
	if !s.cfg.paginate {
		return transport.List(data...), nil
	}
	return transport.Page{
		Data:      data,
		Total:     total,
		Limit:     plan.Limit,
		Skip:      plan.Offset,
		Paginated: true,
		HasLimit:  plan.HasLimit,
		HasSkip:   true,
	}, nil
}

// Get implements transport.Service. Filters in params narrow the lookup.
func (s *Service[T]) Get(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	item, err := s.get(ctx, id, params)
	if err != nil {
		return nil, err
	}
	return s.toRecord(item)
}

func (s *Service[T]) get(ctx context.Context, id any, params transport.Params) (T, error) {
	var zero T
	key, ok := record.Key(id)
	if !ok {
		return zero, fmt.Errorf("%w: empty id", transport.ErrNotFound)
	}
	plan, err := Compile(params.Query, s.cfg.columns)
	if err != nil {
		return zero, err
	}
	item, err := s.repo.GetByID(ctx, key, plan.Filters()...)
	return item, s.wrap(err, id)
}

// Create implements transport.Service.
func (s *Service[T]) Create(ctx context.Context, data []*record.Record, params transport.Params) ([]*record.Record, error) {
	items := make([]T, len(data))
	for i, r := range data {
		item, err := s.fromRecord(r)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}

	var created []T
	if len(items) == 1 {
		item, err := s.repo.Create(ctx, items[0])
		if err != nil {
			return nil, err
		}
		created = []T{item}
	} else {
		var err error
		if created, err = s.repo.CreateMany(ctx, items); err != nil {
			return nil, err
		}
	}

	out, err := s.toRecords(created)
	if err != nil {
		return nil, err
	}
	// carry client-only fields, the temp id among them, back to the caller
	for i, r := range out {
		if i < len(data) {
			for k, v := range data[i].Map() {
				if !r.Has(k) {
					r.Set(k, v)
				}
			}
		}
		s.emit(transport.EventCreated, r)
	}
	return out, nil
}

// Update implements transport.Service. The row is replaced by data.
func (s *Service[T]) Update(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	existing, err := s.Get(ctx, id, params)
	if err != nil {
		return nil, err
	}
	replaced := record.New(data.Map())
	replaced.Set(s.cfg.idField, existing.Value(s.cfg.idField))
	return s.save(ctx, id, replaced, transport.EventUpdated)
}

// Patch implements transport.Service. Only the top level fields in data
// change.
func (s *Service[T]) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	existing, err := s.Get(ctx, id, params)
	if err != nil {
		return nil, err
	}
	for k, v := range data.Map() {
		if k != s.cfg.idField {
			existing.Set(k, v)
		}
	}
	return s.save(ctx, id, existing, transport.EventPatched)
}

func (s *Service[T]) save(ctx context.Context, id any, r *record.Record, typ transport.EventType) (*record.Record, error) {
	item, err := s.fromRecord(r)
	if err != nil {
		return nil, err
	}
	saved, err := s.repo.Update(ctx, item)
	if err != nil {
		return nil, s.wrap(err, id)
	}
	out, err := s.toRecord(saved)
	if err != nil {
		return nil, err
	}
	s.emit(typ, out)
	return out, nil
}

// Remove implements transport.Service.
func (s *Service[T]) Remove(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	item, err := s.get(ctx, id, params)
	if err != nil {
		return nil, err
	}
	out, err := s.toRecord(item)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, item); err != nil {
		return nil, s.wrap(err, id)
	}
	s.emit(transport.EventRemoved, out)
	return out, nil
}

func (s *Service[T]) toRecord(item T) (*record.Record, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("bunrepo: encode %T: %w", item, err)
	}
	r := record.New(nil)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("bunrepo: decode %T as record: %w", item, err)
	}
	return r, nil
}

func (s *Service[T]) toRecords(items []T) ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(items))
	for _, item := range items {
		r, err := s.toRecord(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service[T]) fromRecord(r *record.Record) (T, error) {
	var item T
	data, err := json.Marshal(r)
	if err != nil {
		return item, fmt.Errorf("bunrepo: encode record: %w", err)
	}
	if err := json.Unmarshal(data, &item); err != nil {
		s.cfg.logger.Warn("bunrepo: record does not fit model", "model", fmt.Sprintf("%T", item), "error", err)
		return item, fmt.Errorf("bunrepo: decode record into %T: %w", item, err)
	}
	return item, nil
}
