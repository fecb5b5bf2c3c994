// Package merge copies fields between records without breaking the object
// references or computed accessors readers hold on to.
package merge

import (
	"github.com/goliatone/go-service-store/record"
)

// Mode selects how nested maps and slices are carried over.
type Mode int

const (
	// Deep copies nested maps and slices so no sub-object is shared between
	// two records.
	Deep Mode = iota
	// Shallow assigns nested structures by reference.
	Shallow
)

func (m Mode) String() string {
	if m == Shallow {
		return "shallow"
	}
	return "deep"
}

// DefaultDeny lists bookkeeping keys that are never merged. Clone and temp
// markers live on the Record itself; these keys only appear in payloads written
// by older clients.
var DefaultDeny = []string{"__isClone", "__isTemp", "__ob__"}

// Observer is told about every write the merge performs on dst. Setting one
// marks the destination as externally observed.
type Observer interface {
	Assigned(dst *record.Record, key string, old, value any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(dst *record.Record, key string, old, value any)

// Assigned implements Observer.
func (f ObserverFunc) Assigned(dst *record.Record, key string, old, value any) {
	f(dst, key, old, value)
}

// Options tunes a single merge.
type Options struct {
	Mode Mode
	// Deny is added to DefaultDeny.
	Deny []string
	// Observer, when set, receives every write.
	Observer Observer
	// Warn receives skipped writes, such as values aimed at read-only accessors.
	Warn func(key, reason string)
	// Replace deletes plain fields of dst that src does not carry. Accessors
	// and the fields listed in Keep survive.
	Replace bool
	Keep    []string
}

func (o Options) denied(key string) bool {
	for _, k := range DefaultDeny {
		if k == key {
			return true
		}
	}
	for _, k := range o.Deny {
		if k == key {
			return true
		}
	}
	return false
}

func (o Options) kept(key string) bool {
	for _, k := range o.Keep {
		if k == key {
			return true
		}
	}
	return false
}

func (o Options) warn(key, reason string) {
	if o.Warn != nil {
		o.Warn(key, reason)
	}
}

// Into copies src onto dst and returns dst.
//
//	source field   destination field        action
//	denylisted     any                      skip
//	accessor       any                      define accessor on dst
//	value          missing or value         assign
//	value          accessor with setter     call the setter
//	value          read-only accessor       skip and warn
func Into(dst, src *record.Record, opts Options) *record.Record {
	if dst == nil || src == nil || dst == src {
		return dst
	}

	src.Range(func(key string, raw any) bool {
		if opts.denied(key) {
			return true
		}
		old, _ := dst.Get(key)

		if a, ok := raw.(*record.Accessor); ok {
			dst.Define(key, a)
			opts.assigned(dst, key, old, a)
			return true
		}

		value := raw
		if opts.Mode == Deep && record.IsContainer(value) {
			value = record.DeepCopy(value)
		}
		if a, ok := dst.Accessor(key); ok && a.ReadOnly() {
			opts.warn(key, "read-only accessor on destination")
			return true
		}
		dst.Set(key, value)
		opts.assigned(dst, key, old, value)
		return true
	})

	if opts.Replace {
		for _, key := range dst.Keys() {
			if src.Has(key) || opts.kept(key) || opts.denied(key) {
				continue
			}
			if _, ok := dst.Accessor(key); ok {
				continue
			}
			old, _ := dst.Get(key)
			dst.Delete(key)
			opts.assigned(dst, key, old, nil)
		}
	}
	return dst
}

// Map merges a plain map into dst with the same rules as Into.
func Map(dst *record.Record, src map[string]any, opts Options) *record.Record {
	if src == nil {
		return dst
	}
	return Into(dst, record.New(src), opts)
}

func (o Options) assigned(dst *record.Record, key string, old, value any) {
	if o.Observer != nil {
		o.Observer.Assigned(dst, key, old, value)
	}
}
