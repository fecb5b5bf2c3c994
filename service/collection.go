package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/events"
	"github.com/goliatone/go-service-store/merge"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/registry"
	"github.com/goliatone/go-service-store/store"
	"github.com/goliatone/go-service-store/transport"
	"github.com/goliatone/go-service-store/transport/cached"
)

var (
	// ErrNoTransport is returned by remote actions of a store-only collection.
	ErrNoTransport = errors.New("service: collection has no transport")
	// ErrNoRegistry is returned by New for relations without a registry.
	ErrNoRegistry = errors.New("service: relations need a registry")
	// ErrNilRecord is returned when a write is given a nil record.
	ErrNilRecord = errors.New("service: nil record")
)

// Registry resolves collections by name.
type Registry = registry.Registry[*Collection]

// NewRegistry returns an empty collection registry.
func NewRegistry() *Registry {
	return registry.New[*Collection]()
}

type options struct {
	logger       *slog.Logger
	registry     *Registry
	requestCache cache.CacheService
	serializer   cache.KeySerializer
	newTempID    func() string
	observer     merge.Observer
	operators    map[string]query.OperatorFunc
	handlers     events.Handlers
	setup        store.SetupFunc
	now          func() time.Time
}

// Option configures a Collection.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry registers the collection under its name and resolves declared
// relations through r.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithRequestCache shares identical in-flight finds and gets through c.
func WithRequestCache(c cache.CacheService) Option {
	return func(o *options) { o.requestCache = c }
}

// WithKeySerializer sets the serializer for request cache keys and
// pagination signatures.
func WithKeySerializer(ks cache.KeySerializer) Option {
	return func(o *options) {
		if ks != nil {
			o.serializer = ks
		}
	}
}

// WithTempIDGenerator overrides record.NewObjectID.
func WithTempIDGenerator(fn func() string) Option {
	return func(o *options) { o.newTempID = fn }
}

// WithObserver reports every field write made to cached records.
func WithObserver(obs merge.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithOperators registers evaluators for whitelisted query operators.
func WithOperators(ops map[string]query.OperatorFunc) Option {
	return func(o *options) { o.operators = ops }
}

// WithEventHandlers installs handlers that can veto or rewrite events.
func WithEventHandlers(h events.Handlers) Option {
	return func(o *options) { o.handlers = h }
}

// WithSetup runs fn on every record entering the store, before relations
// are resolved.
func WithSetup(fn store.SetupFunc) Option {
	return func(o *options) { o.setup = fn }
}

// WithClock sets the clock used for pagination timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Collection binds one remote resource to its store.
type Collection struct {
	cfg    Config
	opts   options
	logger *slog.Logger

	remote     transport.Service
	cached     *cached.Service
	store      *store.Store
	reconciler *events.Reconciler

	mu        sync.Mutex
	closed    bool
	refreshes sync.WaitGroup
	closeOnce sync.Once
}

// New builds a collection over svc. svc may be nil for a store-only
// collection; its remote actions then return ErrNoTransport.
func New(svc transport.Service, cfg Config, opts ...Option) (*Collection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("service: invalid config: %w", err)
	}
	o := options{
		logger:     slog.Default(),
		serializer: cache.NewDefaultKeySerializer(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(cfg.Relations) > 0 && o.registry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRegistry, cfg.Name)
	}

	c := &Collection{
		cfg:    cfg,
		opts:   o,
		logger: o.logger.With("collection", cfg.Name),
		remote: svc,
	}
	c.store = store.New(store.Config{
		Name:            cfg.Name,
		IDField:         cfg.IDField,
		TempIDField:     cfg.TempIDField,
		NewTempID:       o.newTempID,
		DisableTempIDs:  cfg.DisableTempIDs,
		AddOnUpsert:     cfg.AddOnUpsert,
		ReplaceItems:    cfg.ReplaceItems,
		Whitelist:       cfg.Whitelist,
		ParamsForServer: cfg.ParamsForServer,
		Operators:       o.operators,
		Setup:           c.setupRecord,
		Observer:        o.observer,
		Serializer:      o.serializer,
		Debug:           cfg.Debug,
		Logger:          o.logger,
		Now:             o.now,
	})

	if svc != nil && o.requestCache != nil {
		idField := cfg.IDField
		if idField == "" {
			idField = "id"
		}
		c.cached = cached.New(svc, o.requestCache, o.serializer,
			cached.WithNamespace(cfg.Name),
			cached.WithIDField(idField),
			cached.WithLogger(o.logger),
		)
		c.remote = c.cached
	}

	if o.registry != nil {
		if err := o.registry.Register(cfg.Name, c); err != nil {
			c.closeTransport()
			return nil, err
		}
	}

	if cfg.Realtime {
		src, ok := svc.(transport.EventSource)
		if !ok {
			c.logger.Warn("service: realtime enabled but the transport has no events")
		} else {
			c.reconciler = events.New(c.store,
				events.Debounce(cfg.DebounceEvents),
				events.MaxWait(cfg.MaxEventWait),
				events.WithHandlers(o.handlers),
				events.WithResolver(c.store.Resolver()),
				events.WithLogger(c.logger),
			)
			c.reconciler.Attach(src)
		}
	}
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.cfg.Name }

// Config returns the collection configuration.
func (c *Collection) Config() Config { return c.cfg }

// Store returns the underlying store. Writes should go through the
// collection so the store invariants hold.
func (c *Collection) Store() *store.Store { return c.store }

// Reconciler returns the event reconciler, nil unless Realtime is on and the
// transport emits events.
func (c *Collection) Reconciler() *events.Reconciler { return c.reconciler }

// InvalidateRequests drops every cached find and get of this collection.
func (c *Collection) InvalidateRequests() {
	if c.cached != nil {
		c.cached.InvalidateAll(context.Background())
	}
}

// Wait blocks until background refreshes started by Get settle. Refreshes
// requested meanwhile start after it returns.
func (c *Collection) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes.Wait()
}

// Close detaches events, waits for background refreshes and removes the
// collection from its registry.
func (c *Collection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.reconciler != nil {
			c.reconciler.Close()
		}
		c.refreshes.Wait()
		c.closeTransport()
		if c.opts.registry != nil {
			if current, ok := c.opts.registry.Lookup(c.cfg.Name); ok && current == c {
				c.opts.registry.Unregister(c.cfg.Name)
			}
		}
	})
}

func (c *Collection) closeTransport() {
	if c.cached != nil {
		c.cached.Close()
	}
}

// setupRecord is the store's Setup hook.
func (c *Collection) setupRecord(r *record.Record) *record.Record {
	if c.opts.setup != nil {
		r = c.opts.setup(r)
	}
	if r == nil || len(c.cfg.Relations) == 0 {
		return r
	}
	for _, rel := range c.cfg.Relations {
		raw, ok := r.Raw(rel.Field)
		if !ok || raw == nil {
			continue
		}
		if _, isAccessor := raw.(*record.Accessor); isAccessor {
			continue
		}
		related, ok := c.opts.registry.Lookup(rel.Collection)
		if !ok {
			c.logger.Warn("service: related collection not registered", "field", rel.Field, "related", rel.Collection)
			continue
		}
		r.Set(rel.Field, related.adopt(raw))
	}
	return r
}

// adopt ingests a nested value into the collection and returns the cached
// instances in its place.
func (c *Collection) adopt(v any) any {
	switch v := v.(type) {
	case *record.Record:
		if out := c.store.Upsert(v)[0]; out != nil {
			return out
		}
		return v
	case map[string]any:
		r := record.New(v)
		if out := c.store.Upsert(r)[0]; out != nil {
			return out
		}
		return r
	case []*record.Record:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.adopt(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.adopt(item)
		}
		return out
	}
	return v
}
