package record

import (
	"reflect"
	"time"
)

// DeepCopy duplicates maps and slices recursively. Scalars, time values and
// pointers are returned unchanged; *Record references are never copied since
// they point at canonical records of another collection.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *Record, *Accessor:
		return t
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, time.Time:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = DeepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyValue(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func copyValue(v reflect.Value, elem reflect.Type) reflect.Value {
	if !v.IsValid() || !v.CanInterface() {
		return v
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return reflect.Zero(elem)
	}
	copied := DeepCopy(v.Interface())
	if copied == nil {
		return reflect.Zero(elem)
	}
	return reflect.ValueOf(copied).Convert(elem)
}

// IsContainer reports whether v is a map or slice value, the kinds the merge
// engine treats as nested structures.
func IsContainer(v any) bool {
	switch v.(type) {
	case nil, *Record, *Accessor, string, []byte:
		return false
	case map[string]any, []any:
		return true
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Map || k == reflect.Slice
}
