package di

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/service"
	"github.com/goliatone/go-service-store/transport"
)

// ErrDuplicateCollection is returned when a file declares a name twice.
var ErrDuplicateCollection = errors.New("di: duplicate collection")

// FileConfig is the YAML layout of an application context.
//
//	cache:
//	  capacity: 1000
//	  ttl: 30s
//	collections:
//	  - name: todos
//	    auto_remove: true
//	    realtime: true
//	    debounce_events: 50ms
type FileConfig struct {
	Cache       cache.Config     `yaml:"cache"`
	Collections []service.Config `yaml:"collections"`
}

// Validate checks the cache section and every collection.
func (fc FileConfig) Validate() error {
	if err := fc.Cache.Validate(); err != nil {
		return fmt.Errorf("di: cache: %w", err)
	}
	seen := make(map[string]bool, len(fc.Collections))
	for i, col := range fc.Collections {
		if err := col.Validate(); err != nil {
			return fmt.Errorf("di: collection %d (%s): %w", i, col.Name, err)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateCollection, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// LoadConfig decodes a FileConfig. Cache options missing from the document
// keep their cache.DefaultConfig values; unknown keys are rejected.
func LoadConfig(r io.Reader) (FileConfig, error) {
	fc := FileConfig{Cache: cache.DefaultConfig()}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("di: decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

// LoadConfigFile reads a FileConfig from path.
func LoadConfigFile(path string) (FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("di: open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// NewFromConfig builds a container and one collection per entry of fc.
// services maps collection names to transports; a collection without one is
// store-only. On error the collections built so far are closed.
func NewFromConfig(fc FileConfig, services map[string]transport.Service, opts ...Option) (*Container, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	c, err := NewContainer(fc.Cache, opts...)
	if err != nil {
		return nil, err
	}
	for _, cfg := range fc.Collections {
		if _, err := c.NewCollection(services[cfg.Name], cfg); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}
