package query

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-service-store/record"
)

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toInt accepts numbers and numeric strings, the form $limit and $skip take
// when they come from a query string.
func toInt(v any) (int, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Query:
		return map[string]any(t), true
	}
	return nil, false
}

// Equal reports whether a and b hold the same value. Numbers compare by value
// regardless of their Go type.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case time.Time:
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	case *record.Record:
		tb, ok := b.(*record.Record)
		return ok && ta == tb
	}
	if ma, ok := toMap(a); ok {
		mb, ok := toMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	}
	if sa, ok := toSlice(a); ok {
		sb, ok := toSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !Equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values of the same class. ok is false when the values
// cannot be ordered against each other.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmp3(fa < fb, fa > fb), true
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(ta, tb), true
	case bool:
		tb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp3(!ta && tb, ta && !tb), true
	case time.Time:
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// sort classes: missing < null < numbers < strings < bools < times < others
func rank(v any, found bool) int {
	if !found {
		return 0
	}
	if v == nil {
		return 1
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	switch v.(type) {
	case string:
		return 3
	case bool:
		return 4
	case time.Time:
		return 5
	}
	return 6
}

func sortCompare(a any, aok bool, b any, bok bool) int {
	ra, rb := rank(a, aok), rank(b, bok)
	if ra != rb {
		return cmp3(ra < rb, ra > rb)
	}
	c, _ := compare(a, b)
	return c
}
