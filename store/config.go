package store

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/merge"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
)

// SetupFunc transforms every record before it enters the store. It may
// return the record it was given or a replacement.
type SetupFunc func(r *record.Record) *record.Record

// Config holds the per collection policies of a Store.
type Config struct {
	// Name labels log lines.
	Name string

	// IDField is checked after "id" and "_id".
	IDField string
	// TempIDField defaults to record.DefaultTempIDField.
	TempIDField string
	// NewTempID defaults to record.NewObjectID.
	NewTempID func() string
	// DisableTempIDs drops records that arrive without any id.
	DisableTempIDs bool

	// AddOnUpsert inserts records passed to Update that are not cached yet.
	// When false they are discarded with a warning.
	AddOnUpsert bool
	// ReplaceItems deletes fields absent from an update payload instead of
	// keeping them.
	ReplaceItems bool

	Whitelist       []string
	ParamsForServer []string
	Operators       map[string]query.OperatorFunc

	// Setup runs on every incoming record, outside the store lock.
	Setup SetupFunc
	// Observer receives every field write done to cached records.
	Observer merge.Observer
	// Serializer builds pagination signatures.
	Serializer cache.KeySerializer

	// Debug enables partial-data warnings.
	Debug  bool
	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) resolver() record.Resolver {
	return record.Resolver{
		IDField:        c.IDField,
		TempIDField:    c.TempIDField,
		NewTempID:      c.NewTempID,
		DisableTempIDs: c.DisableTempIDs,
	}
}

// QueryOptions returns the query engine options matching the store policies.
func (c Config) QueryOptions() query.Options {
	res := c.resolver()
	return query.Options{
		Whitelist:       c.Whitelist,
		ParamsForServer: c.ParamsForServer,
		Operators:       c.Operators,
		IDFields:        res.Fields(),
		TempIDField:     res.TempField(),
	}
}
