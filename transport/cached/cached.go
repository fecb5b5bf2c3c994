package cached

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

const (
	opFind = "find"
	opGet  = "get"
)

// Option configures a Service.
type Option func(*Service)

// WithNamespace sets the key namespace. Every resource sharing one cache
// needs its own. Defaults to "resource".
func WithNamespace(name string) Option {
	return func(s *Service) {
		if ns := toSnake(name); ns != "" {
			s.namespace = ns
		}
	}
}

// WithIDField names the record field events carry the id in. Defaults to "id".
func WithIDField(field string) Option {
	return func(s *Service) {
		if field != "" {
			s.idField = field
		}
	}
}

// WithLogger sets the logger for failed evictions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service decorates a transport.Service with a read-through cache.
type Service struct {
	base          transport.Service
	cache         cache.CacheService
	keySerializer cache.KeySerializer
	namespace     string
	idField       string
	logger        *slog.Logger

	keyRegistry *sync.Map // key -> []string tags
	unsubscribe func()
}

var _ transport.Service = (*Service)(nil)
var _ transport.EventSource = (*Service)(nil)

// New wraps base. When base is a transport.EventSource its events evict
// cached reads until Close is called.
func New(base transport.Service, cacheService cache.CacheService, keySerializer cache.KeySerializer, opts ...Option) *Service {
	s := &Service{
		base:          base,
		cache:         cacheService,
		keySerializer: keySerializer,
		namespace:     "resource",
		idField:       "id",
		logger:        slog.Default(),
		keyRegistry:   &sync.Map{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if src, ok := base.(transport.EventSource); ok {
		s.unsubscribe = src.Subscribe(s.evictFor)
	}
	return s
}

// Namespace returns the key namespace.
func (s *Service) Namespace() string { return s.namespace }

// Close stops listening to the wrapped service's events.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Subscribe passes through to the wrapped service. Services without events
// never call fn.
func (s *Service) Subscribe(fn func(transport.Event)) func() {
	if src, ok := s.base.(transport.EventSource); ok {
		return src.Subscribe(fn)
	}
	return func() {}
}

func (s *Service) prefix(op string) string {
	return s.namespace + ":" + op
}

func (s *Service) key(ctx context.Context, op string, args ...any) string {
	tags := cacheTagsFromContext(ctx)
	if len(tags) > 0 {
		args = append(args, tags)
	}
	key := s.keySerializer.SerializeKey(s.prefix(op), args...)
	s.trackKey(key, tags)
	return key
}

// Find implements transport.Service. Identical queries share one call.
func (s *Service) Find(ctx context.Context, params transport.Params) (transport.Page, error) {
	key := s.key(ctx, opFind, params.Query, params.Extra)
	page, err := cache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (transport.Page, error) {
		return s.base.Find(ctx, params)
	})
	if err != nil {
		return transport.Page{}, err
	}
	out := page
	out.Data = make([]*record.Record, len(page.Data))
	for i, r := range page.Data {
		out.Data[i] = r.Clone()
	}
	return out, nil
}

// Get implements transport.Service.
func (s *Service) Get(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	key := s.key(ctx, opGet, record.MustKey(id), params.Query, params.Extra)
	r, err := cache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (*record.Record, error) {
		return s.base.Get(ctx, id, params)
	})
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Create implements transport.Service and evicts every cached find.
func (s *Service) Create(ctx context.Context, data []*record.Record, params transport.Params) ([]*record.Record, error) {
	out, err := s.base.Create(ctx, data, params)
	if err != nil {
		return nil, err
	}
	s.invalidateAfterCreate(ctx)
	return out, nil
}

// Update implements transport.Service.
func (s *Service) Update(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	out, err := s.base.Update(ctx, id, data, params)
	if err != nil {
		return nil, err
	}
	s.invalidateAfterWrite(ctx, id)
	return out, nil
}

// Patch implements transport.Service.
func (s *Service) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	out, err := s.base.Patch(ctx, id, data, params)
	if err != nil {
		return nil, err
	}
	s.invalidateAfterWrite(ctx, id)
	return out, nil
}

// Remove implements transport.Service.
func (s *Service) Remove(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	out, err := s.base.Remove(ctx, id, params)
	if err != nil {
		return nil, err
	}
	s.invalidateAfterWrite(ctx, id)
	return out, nil
}

// InvalidateTags evicts every read registered under one of tags.
func (s *Service) InvalidateTags(ctx context.Context, tags ...string) {
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}
	var keys []string
	s.keyRegistry.Range(func(k, v any) bool {
		for _, t := range v.([]string) {
			if _, ok := want[t]; ok {
				keys = append(keys, k.(string))
				break
			}
		}
		return true
	})
	s.evict(ctx, keys)
}

// InvalidateAll evicts every read of this resource.
func (s *Service) InvalidateAll(ctx context.Context) {
	s.invalidateByPrefix(ctx, s.namespace+":")
}

// trackKey registers a cache key in the key registry for later invalidation
func (s *Service) trackKey(key string, tags []string) {
	s.keyRegistry.Store(key, tags)
}

// invalidateByPrefix removes all tracked keys that start with prefix
func (s *Service) invalidateByPrefix(ctx context.Context, prefix string) {
	var keys []string
	s.keyRegistry.Range(func(k, _ any) bool {
		if key, ok := k.(string); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	s.evict(ctx, keys)
}

func (s *Service) evict(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.cache.InvalidateKeys(ctx, keys); err != nil {
		s.logger.Warn("cached: eviction failed", "namespace", s.namespace, "keys", len(keys), "error", err)
	}
	for _, key := range keys {
		s.keyRegistry.Delete(key)
	}
}

// invalidateAfterCreate evicts finds, since new records change totals and pages.
func (s *Service) invalidateAfterCreate(ctx context.Context) {
	s.invalidateByPrefix(ctx, s.prefix(opFind))
}

// invalidateAfterWrite evicts the gets for id and every find.
func (s *Service) invalidateAfterWrite(ctx context.Context, id any) {
	if key, ok := record.Key(id); ok {
		s.invalidateByPrefix(ctx, s.keySerializer.SerializeKey(s.prefix(opGet), key))
	}
	s.invalidateByPrefix(ctx, s.prefix(opFind))
}

func (s *Service) evictFor(ev transport.Event) {
	ctx := context.Background()
	if ev.Type == transport.EventCreated || ev.Record == nil {
		s.invalidateAfterCreate(ctx)
		return
	}
	if id, ok := ev.Record.Get(s.idField); ok {
		s.invalidateAfterWrite(ctx, id)
		return
	}
	s.InvalidateAll(ctx)
}
