// Package registry is a named lookup table owned by an application context.
// Components that need cross collection lookups receive the registry they
// should use instead of reaching for a package level table.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrDuplicate = errors.New("registry: name already registered")
	ErrEmptyName = errors.New("registry: empty name")
)

// Registry maps names to values. The zero value is not usable; call New.
type Registry[V any] struct {
	items *xsync.MapOf[string, V]
}

// New creates an empty registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{items: xsync.NewMapOf[string, V]()}
}

// Register stores v under name. A name can be registered once until it is
// unregistered.
func (r *Registry[V]) Register(name string, v V) error {
	if name == "" {
		return ErrEmptyName
	}
	if _, loaded := r.items.LoadOrStore(name, v); loaded {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	return nil
}

// Lookup returns the value registered under name.
func (r *Registry[V]) Lookup(name string) (V, bool) {
	return r.items.Load(name)
}

// Unregister removes name and returns the value it held.
func (r *Registry[V]) Unregister(name string) (V, bool) {
	return r.items.LoadAndDelete(name)
}

// Names returns the registered names in lexical order.
func (r *Registry[V]) Names() []string {
	names := make([]string, 0, r.items.Size())
	r.items.Range(func(name string, _ V) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Len returns the number of registered values.
func (r *Registry[V]) Len() int {
	return r.items.Size()
}

// Range calls fn for every entry in lexical name order until fn returns false.
func (r *Registry[V]) Range(fn func(name string, v V) bool) {
	for _, name := range r.Names() {
		v, ok := r.items.Load(name)
		if !ok {
			continue
		}
		if !fn(name, v) {
			return
		}
	}
}

// Clear drops every entry.
func (r *Registry[V]) Clear() {
	r.items.Clear()
}
