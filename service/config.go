package service

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	namePattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_./-]*$`)
	fieldPattern    = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	operatorPattern = regexp.MustCompile(`^\$[A-Za-z][A-Za-z0-9_]*$`)
)

// Config holds the per collection options. The zero value plus a Name is a
// valid configuration.
type Config struct {
	// Name identifies the collection in the registry, the request cache and
	// log lines.
	Name string `yaml:"name"`

	IDField        string `yaml:"id_field"`
	TempIDField    string `yaml:"temp_id_field"`
	DisableTempIDs bool   `yaml:"disable_temp_ids"`

	// AutoRemove drops cached records missing from a non paginated find.
	AutoRemove  bool `yaml:"auto_remove"`
	AddOnUpsert bool `yaml:"add_on_upsert"`
	// DiffOnPatch sends only the top level fields that changed.
	DiffOnPatch bool `yaml:"diff_on_patch"`
	// SkipRequestIfExists answers Get from the store when the record is
	// cached and refreshes it in the background.
	SkipRequestIfExists bool `yaml:"skip_request_if_exists"`
	// PreferUpdate makes Save use Update instead of Patch.
	PreferUpdate bool `yaml:"prefer_update"`
	ReplaceItems bool `yaml:"replace_items"`

	ParamsForServer []string `yaml:"params_for_server"`
	Whitelist       []string `yaml:"whitelist"`

	// Realtime feeds the transport's events into the store.
	Realtime       bool          `yaml:"realtime"`
	DebounceEvents time.Duration `yaml:"debounce_events"`
	MaxEventWait   time.Duration `yaml:"max_event_wait"`

	Relations []Relation `yaml:"relations"`

	Debug bool `yaml:"debug"`
}

// Relation declares that Field holds records of another registered
// collection. Nested objects found there are ingested into that collection
// and replaced by its cached instances.
type Relation struct {
	Field      string `yaml:"field"`
	Collection string `yaml:"collection"`
}

// Validate implements validation.Validatable.
func (r Relation) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Field, validation.Required, validation.Match(fieldPattern)),
		validation.Field(&r.Collection, validation.Required, validation.Match(namePattern)),
	)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Match(namePattern)),
		validation.Field(&c.IDField, validation.Match(fieldPattern)),
		validation.Field(&c.TempIDField, validation.Match(fieldPattern)),
		validation.Field(&c.Whitelist, validation.Each(validation.Required, validation.Match(operatorPattern))),
		validation.Field(&c.ParamsForServer, validation.Each(validation.Required)),
		validation.Field(&c.DebounceEvents, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxEventWait, validation.Min(time.Duration(0))),
		validation.Field(&c.Relations),
	)
}
