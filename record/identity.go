package record

// DefaultTempIDField is the field temporary ids are written to.
const DefaultTempIDField = "__id"

// Identity describes how a record is keyed.
type Identity struct {
	// Key is the normalized id the store uses.
	Key string
	// Raw is the id as found on the record (or the generated temp id).
	Raw any
	// Field is the field Raw was read from.
	Field string
	// Temp is true when the record has no real id yet.
	Temp bool
}

// Resolver derives identities for incoming records.
type Resolver struct {
	// IDField is the collection's custom id field, checked after "id" and "_id".
	IDField string
	// TempIDField holds client generated ids; defaults to DefaultTempIDField.
	TempIDField string
	// NewTempID generates temp ids; defaults to NewObjectID.
	NewTempID func() string
	// DisableTempIDs stops the resolver from generating temp ids.
	DisableTempIDs bool
}

// TempField returns the configured temp id field.
func (res Resolver) TempField() string {
	if res.TempIDField == "" {
		return DefaultTempIDField
	}
	return res.TempIDField
}

// Fields returns the candidate real id fields in lookup order.
func (res Resolver) Fields() []string {
	fields := []string{"id", "_id"}
	if res.IDField != "" && res.IDField != "id" && res.IDField != "_id" {
		fields = append(fields, res.IDField)
	}
	return fields
}

// RealID returns the record's server assigned id. The first field holding a
// non-nil value wins.
func (res Resolver) RealID(r *Record) (Identity, bool) {
	if r == nil {
		return Identity{}, false
	}
	for _, field := range res.Fields() {
		raw, ok := r.Get(field)
		if !ok || raw == nil {
			continue
		}
		key, ok := Key(raw)
		if !ok {
			continue
		}
		return Identity{Key: key, Raw: raw, Field: field}, true
	}
	return Identity{}, false
}

// TempID returns the temp id already present on the record.
func (res Resolver) TempID(r *Record) (string, bool) {
	if r == nil {
		return "", false
	}
	raw, ok := r.Get(res.TempField())
	if !ok || raw == nil {
		return "", false
	}
	return Key(raw)
}

// Resolve classifies the record. Records without a real id are temporary: a
// provided temp id is reused, otherwise one is generated and written to the
// temp id field. ok is false only when no identity can be derived at all.
func (res Resolver) Resolve(r *Record) (id Identity, ok bool) {
	if r == nil {
		return Identity{}, false
	}
	if id, ok := res.RealID(r); ok {
		return id, true
	}
	field := res.TempField()
	if key, ok := res.TempID(r); ok {
		return Identity{Key: key, Raw: r.Value(field), Field: field, Temp: true}, true
	}
	if res.DisableTempIDs {
		return Identity{}, false
	}
	gen := res.NewTempID
	if gen == nil {
		gen = NewObjectID
	}
	key := gen()
	r.Set(field, key)
	return Identity{Key: key, Raw: key, Field: field, Temp: true}, true
}
