package record

import (
	"reflect"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path ("address.city", "tags.0") against the
// record. Accessors are evaluated at the first segment; nested *Record values
// are traversed too.
func (r *Record) Lookup(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return r.Get(path)
	}
	v, ok := r.Get(head)
	if !ok {
		// a literal key containing dots wins over traversal
		return r.Get(path)
	}
	return Walk(v, rest)
}

// Walk resolves a dotted path inside an arbitrary nested value.
func Walk(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(v, seg)
		if !ok {
			return nil, false
		}
		v = next
	}
	return v, true
}

func step(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case *Record:
		return t.Get(seg)
	case map[string]any:
		out, ok := t[seg]
		return out, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !out.IsValid() {
			return nil, false
		}
		return out.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}
