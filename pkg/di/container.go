package di

import (
	"fmt"
	"log/slog"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/service"
	"github.com/goliatone/go-service-store/transport"
	"github.com/goliatone/go-service-store/transport/bunrepo"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to every collection built by the
// container. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeySerializer replaces the default request key serializer.
func WithKeySerializer(ks cache.KeySerializer) Option {
	return func(c *Container) {
		if ks != nil {
			c.keySerializer = ks
		}
	}
}

// Container is the application context of a set of collections. It owns the
// shared request cache, the key serializer and the registry relations are
// resolved through.
type Container struct {
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	config        cache.Config
	registry      *service.Registry
	logger        *slog.Logger
}

// NewContainer creates a container whose request cache is configured by
// config.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	cacheService, err := cache.NewCacheService(config)
	if err != nil {
		return nil, err
	}

	c := &Container{
		cacheService:  cacheService,
		keySerializer: cache.NewDefaultKeySerializer(),
		config:        config,
		registry:      service.NewRegistry(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewContainerWithDefaults creates a container with cache.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// CacheService returns the shared request cache.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns the request cache configuration.
func (c *Container) Config() cache.Config {
	return c.config
}

// Registry returns the registry collections built by the container join.
func (c *Container) Registry() *service.Registry {
	return c.registry
}

// NewCollection builds a collection over svc wired to the container's
// request cache, registry and logger. opts are applied after the container
// defaults and may override them.
func (c *Container) NewCollection(svc transport.Service, cfg service.Config, opts ...service.Option) (*service.Collection, error) {
	base := []service.Option{
		service.WithLogger(c.logger),
		service.WithRegistry(c.registry),
		service.WithRequestCache(c.cacheService),
		service.WithKeySerializer(c.keySerializer),
	}
	return service.New(svc, cfg, append(base, opts...)...)
}

// Collection looks up a collection built by the container.
func (c *Container) Collection(name string) (*service.Collection, bool) {
	return c.registry.Lookup(name)
}

// Close closes every registered collection.
func (c *Container) Close() {
	var open []*service.Collection
	c.registry.Range(func(_ string, col *service.Collection) bool {
		open = append(open, col)
		return true
	})
	for _, col := range open {
		col.Close()
	}
	c.logger.Debug("di: container closed", "collections", len(open))
}

// NewRepositoryCollection builds a collection served by a go-repository-bun
// repository. The collection id field is used as the primary key field.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepositoryCollection[*User](container, users, service.Config{Name: "users"})
func NewRepositoryCollection[T any](c *Container, repo repository.Repository[T], cfg service.Config, opts ...bunrepo.Option) (*service.Collection, error) {
	if repo == nil {
		return nil, fmt.Errorf("di: collection %q has no repository", cfg.Name)
	}
	base := []bunrepo.Option{
		bunrepo.WithIDField(cfg.IDField),
		bunrepo.WithLogger(c.logger),
	}
	return c.NewCollection(bunrepo.New(repo, append(base, opts...)...), cfg)
}
