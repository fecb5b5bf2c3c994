package query

import (
	"github.com/goliatone/go-service-store/record"
)

type getter func(path string) (any, bool)

func recordGetter(r *record.Record) getter {
	return r.Lookup
}

func valueGetter(v any) getter {
	return func(path string) (any, bool) {
		return record.Walk(v, path)
	}
}

// Matches reports whether r satisfies the parsed filter.
func (p *Parsed) Matches(r *record.Record) bool {
	if r == nil {
		return false
	}
	return matchDoc(recordGetter(r), r, p.Filter, p.opts)
}

// Match validates q and tests a single record against its filter.
func Match(r *record.Record, q Query, opts Options) (bool, error) {
	p, err := Parse(q, opts)
	if err != nil {
		return false, err
	}
	return p.Matches(r), nil
}

func matchDoc(get getter, subject any, doc map[string]any, opts Options) bool {
	for k, cond := range doc {
		switch {
		case k == OpOr:
			branches, _ := toSlice(cond)
			if !matchAny(get, subject, branches, opts) {
				return false
			}
		case len(k) > 0 && k[0] == '$':
			fn, ok := opts.evaluator(k)
			if ok && !fn(subject, cond) {
				return false
			}
		default:
			v, found := get(k)
			if !matchCond(v, found, cond, opts) {
				return false
			}
		}
	}
	return true
}

func matchAny(get getter, subject any, branches []any, opts Options) bool {
	for _, b := range branches {
		m, ok := toMap(b)
		if ok && matchDoc(get, subject, m, opts) {
			return true
		}
	}
	return false
}

func matchCond(v any, found bool, cond any, opts Options) bool {
	ops, ok := toMap(cond)
	if !ok || !isOperatorObject(ops) {
		return equalsField(v, found, cond)
	}
	for op, arg := range ops {
		if !matchOp(op, v, found, arg, opts) {
			return false
		}
	}
	return true
}

func matchOp(op string, v any, found bool, arg any, opts Options) bool {
	switch op {
	case OpIn:
		return in(v, found, arg)
	case OpNin:
		return !in(v, found, arg)
	case OpNe:
		return !equalsField(v, found, arg)
	case OpLt, OpLte, OpGt, OpGte:
		if !found {
			return false
		}
		if items, ok := toSlice(v); ok {
			for _, item := range items {
				if ordered(op, item, arg) {
					return true
				}
			}
			return false
		}
		return ordered(op, v, arg)
	case OpElemMatch:
		items, ok := toSlice(v)
		if !ok {
			return false
		}
		sub, _ := toMap(arg)
		for _, item := range items {
			if isOperatorObject(sub) {
				if matchCond(item, true, sub, opts) {
					return true
				}
				continue
			}
			if matchDoc(valueGetter(item), item, sub, opts) {
				return true
			}
		}
		return false
	}
	if fn, ok := opts.evaluator(op); ok {
		if !found {
			v = nil
		}
		return fn(v, arg)
	}
	return true
}

func ordered(op string, v, arg any) bool {
	c, ok := compare(v, arg)
	if !ok {
		return false
	}
	switch op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	default:
		return c >= 0
	}
}

// equalsField applies equality the way document stores do: nil matches a
// missing field, and an array field matches when it equals the condition or
// holds an element equal to it.
func equalsField(v any, found bool, cond any) bool {
	if cond == nil {
		return !found || v == nil
	}
	if !found {
		return false
	}
	if Equal(v, cond) {
		return true
	}
	if items, ok := toSlice(v); ok {
		for _, item := range items {
			if Equal(item, cond) {
				return true
			}
		}
	}
	return false
}

func in(v any, found bool, arg any) bool {
	options, _ := toSlice(arg)
	for _, opt := range options {
		if equalsField(v, found, opt) {
			return true
		}
	}
	return false
}
