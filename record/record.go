package record

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Record is a single entity held by a collection. Records are handled by
// pointer: two *Record values are the same entity only if they are the same
// pointer, which is what the store preserves across updates.
//
// A Record is not safe for concurrent mutation. Records owned by a store are
// mutated under the store lock; read them through store.View when other
// goroutines may be writing.
type Record struct {
	fields map[string]any
	clone  bool
	temp   bool
}

// New builds a record that takes ownership of fields. A nil map yields an
// empty record.
func New(fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{fields: fields}
}

// FromMap builds a record from a deep copy of fields.
func FromMap(fields map[string]any) *Record {
	r := New(nil)
	for k, v := range fields {
		r.fields[k] = DeepCopy(v)
	}
	return r
}

// Get returns the value stored under key, evaluating accessors.
func (r *Record) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.fields[key]
	if !ok {
		return nil, false
	}
	if a, isAccessor := v.(*Accessor); isAccessor {
		if a.Get == nil {
			return nil, true
		}
		return a.Get(r), true
	}
	return v, true
}

// Value is Get without the presence flag.
func (r *Record) Value(key string) any {
	v, _ := r.Get(key)
	return v
}

// Raw returns the stored value without evaluating accessors.
func (r *Record) Raw(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.fields[key]
	return v, ok
}

// Has reports whether the record owns key.
func (r *Record) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.fields[key]
	return ok
}

// Set writes value under key. Writes to an accessor go through its setter;
// writes to a read-only accessor are skipped and Set returns false.
func (r *Record) Set(key string, value any) bool {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	if existing, ok := r.fields[key]; ok {
		if a, isAccessor := existing.(*Accessor); isAccessor {
			if a.Set == nil {
				return false
			}
			a.Set(r, value)
			return true
		}
	}
	r.fields[key] = value
	return true
}

// Define installs an accessor under key, replacing whatever was there.
func (r *Record) Define(key string, a *Accessor) {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.fields[key] = a
}

// Accessor returns the accessor stored under key, if any.
func (r *Record) Accessor(key string) (*Accessor, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.fields[key].(*Accessor)
	return a, ok
}

// Delete removes key from the record.
func (r *Record) Delete(key string) {
	delete(r.fields, key)
}

// Keys returns the field names in lexical order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of fields, accessors included.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Map returns a detached copy of the record with accessors evaluated. It is
// what transports put on the wire.
func (r *Record) Map() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.fields))
	for k := range r.fields {
		v, _ := r.Get(k)
		out[k] = DeepCopy(v)
	}
	return out
}

// Clone duplicates the record. Plain values are deep-copied, accessors are
// carried over as-is. Markers are not copied.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := New(make(map[string]any, len(r.fields)))
	for k, v := range r.fields {
		if a, ok := v.(*Accessor); ok {
			c.fields[k] = a
			continue
		}
		c.fields[k] = DeepCopy(v)
	}
	return c
}

// IsClone reports whether the record is a working copy.
func (r *Record) IsClone() bool { return r != nil && r.clone }

// IsTemp reports whether the record is still waiting for a real id.
func (r *Record) IsTemp() bool { return r != nil && r.temp }

// MarkClone sets the working-copy marker.
func (r *Record) MarkClone(v bool) { r.clone = v }

// MarkTemp sets the temporary marker.
func (r *Record) MarkTemp(v bool) { r.temp = v }

// MarshalJSON encodes the evaluated fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.Map())
}

// UnmarshalJSON replaces the record fields with the decoded object.
func (r *Record) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.fields = make(map[string]any)
		return nil
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.fields = fields
	return nil
}

// Range calls fn for every raw field in lexical key order until fn returns false.
func (r *Record) Range(fn func(key string, value any) bool) {
	for _, k := range r.Keys() {
		if !fn(k, r.fields[k]) {
			return
		}
	}
}
