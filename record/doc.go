// Package record defines the entity value cached by collections and the rules
// used to identify it.
//
// # Overview
//
// A Record is a pointer-identity wrapper around a field map. The store never
// swaps a cached *Record for a new object while the entity lives, so callers
// can hold on to the pointer and observe updates in place.
//
// Fields may hold computed accessors:
//
//	user := record.New(map[string]any{"firstName": "Ada", "lastName": "Lovelace"})
//	user.Define("fullName", record.Computed(func(r *record.Record) any {
//		return fmt.Sprint(r.Value("firstName"), " ", r.Value("lastName"))
//	}))
//
// # Identity
//
// Resolver looks for a real id under "id", then "_id", then the configured
// id field. Records without one are temporary and receive a generated id
// under the temp id field ("__id" by default). Generators: NewObjectID
// (default), ULIDGenerator and UUIDGenerator.
//
// Ids are normalized with Key so numeric ids decoded from JSON (float64)
// and ids built in Go (int) address the same entry.
package record
