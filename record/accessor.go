package record

// Accessor is a computed field. Get is evaluated whenever the field is read;
// Set, when present, receives writes. An Accessor without Set is read-only.
type Accessor struct {
	Get func(r *Record) any
	Set func(r *Record, value any)
}

// Computed returns a read-only accessor.
func Computed(get func(r *Record) any) *Accessor {
	return &Accessor{Get: get}
}

// ReadOnly reports whether writes to the accessor are ignored.
func (a *Accessor) ReadOnly() bool {
	return a == nil || a.Set == nil
}
