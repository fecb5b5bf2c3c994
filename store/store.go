package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-service-store/merge"
	"github.com/goliatone/go-service-store/pagination"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
)

// Store is the normalized cache of one collection.
//
// Invariants kept under the lock:
//   - a key is in keyed or in temps, never both
//   - ids and keyed hold the same key set, ids in first-seen order
//   - copies are only written by Clone, Commit, Reset and promotion
type Store struct {
	mu sync.RWMutex

	cfg      Config
	resolver record.Resolver
	logger   *slog.Logger
	now      func() time.Time

	ids       []string
	keyed     map[string]*record.Record
	temps     map[string]*record.Record
	tempOrder []string
	copies    map[string]*record.Record
	// aliases maps promoted temp keys to their real key.
	aliases map[string]string
	ledger  *pagination.Ledger
	status  map[Verb]*verbState

	subsMu  sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New builds an empty store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name != "" {
		logger = logger.With("collection", cfg.Name)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		cfg:      cfg,
		resolver: cfg.resolver(),
		logger:   logger,
		now:      now,
		keyed:    make(map[string]*record.Record),
		temps:    make(map[string]*record.Record),
		copies:   make(map[string]*record.Record),
		aliases:  make(map[string]string),
		ledger:   pagination.New(cfg.Serializer),
		status:   make(map[Verb]*verbState),
		subs:     make(map[int]func(Change)),
	}
}

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// Resolver returns the identity resolver used by the store.
func (s *Store) Resolver() record.Resolver { return s.resolver }

func (s *Store) warn(msg string, args ...any) {
	if s.cfg.Debug {
		s.logger.Warn(msg, args...)
	}
}

func (s *Store) setup(recs []*record.Record) []*record.Record {
	out := make([]*record.Record, len(recs))
	for i, r := range recs {
		if r != nil && s.cfg.Setup != nil {
			r = s.cfg.Setup(r)
		}
		out[i] = r
	}
	return out
}

// mergeOptions are used for every write coming from the network.
func (s *Store) mergeOptions(changed *bool) merge.Options {
	opts := merge.Options{
		Mode: merge.Deep,
		Warn: func(key, reason string) {
			s.warn("merge skipped field", "field", key, "reason", reason)
		},
		Observer: merge.ObserverFunc(func(dst *record.Record, key string, old, value any) {
			if !query.Equal(old, value) {
				*changed = true
			}
			if s.cfg.Observer != nil {
				s.cfg.Observer.Assigned(dst, key, old, value)
			}
		}),
	}
	if s.cfg.ReplaceItems {
		opts.Replace = true
		opts.Keep = []string{s.resolver.TempField()}
	}
	return opts
}

// AddOne adds r. See AddMany.
func (s *Store) AddOne(r *record.Record) *record.Record {
	return s.AddMany(r)[0]
}

// AddMany inserts records. Real ids are appended to the id order once; a
// record whose id is already cached takes its place. Records without a
// derivable identity are dropped and reported as nil at their position.
func (s *Store) AddMany(recs ...*record.Record) []*record.Record {
	recs = s.setup(recs)
	b := &batch{}

	s.mu.Lock()
	out := make([]*record.Record, len(recs))
	for i, r := range recs {
		out[i] = s.addLocked(r, b)
	}
	s.mu.Unlock()

	s.emit(b.changes...)
	return out
}

func (s *Store) addLocked(r *record.Record, b *batch) *record.Record {
	id, ok := s.identify(r)
	if !ok {
		return nil
	}
	if id.Temp {
		return s.putTempLocked(id.Key, r, b)
	}
	if tempKey, ok := s.pendingTemp(r); ok {
		return s.promoteLocked(tempKey, r, id, b)
	}
	s.putLocked(id.Key, r, b)
	return r
}

// UpdateOne merges r into its cached record. See UpdateMany.
func (s *Store) UpdateOne(r *record.Record) *record.Record {
	return s.UpdateMany(r)[0]
}

// UpdateMany merges records into the cached records with the same id.
// Unknown ids are inserted when AddOnUpsert is set and discarded otherwise.
func (s *Store) UpdateMany(recs ...*record.Record) []*record.Record {
	recs = s.setup(recs)
	b := &batch{}

	s.mu.Lock()
	out := make([]*record.Record, len(recs))
	for i, r := range recs {
		id, ok := s.identify(r)
		if !ok {
			continue
		}
		if !id.Temp {
			if tempKey, ok := s.pendingTemp(r); ok {
				out[i] = s.promoteLocked(tempKey, r, id, b)
				continue
			}
		}
		if existing := s.lookupLocked(id); existing != nil {
			out[i] = s.mergeLocked(existing, r, id.Key, b)
			continue
		}
		if !s.cfg.AddOnUpsert {
			s.warn("update discarded for uncached record", "id", id.Key)
			continue
		}
		out[i] = s.addLocked(r, b)
	}
	s.mu.Unlock()

	s.emit(b.changes...)
	return out
}

// Upsert ingests records coming from the server: cached ids are merged, new
// ids are added, and records carrying the temp id of a pending create
// promote that temp record. The returned records are the canonical instances.
func (s *Store) Upsert(recs ...*record.Record) []*record.Record {
	recs = s.setup(recs)
	b := &batch{}

	s.mu.Lock()
	out := s.upsertLocked(recs, b)
	s.mu.Unlock()

	s.emit(b.changes...)
	return out
}

func (s *Store) upsertLocked(recs []*record.Record, b *batch) []*record.Record {
	out := make([]*record.Record, len(recs))
	for i, r := range recs {
		id, ok := s.identify(r)
		if !ok {
			continue
		}
		if !id.Temp {
			if tempKey, ok := s.pendingTemp(r); ok {
				out[i] = s.promoteLocked(tempKey, r, id, b)
				continue
			}
		}
		if existing := s.lookupLocked(id); existing != nil {
			out[i] = s.mergeLocked(existing, r, id.Key, b)
			continue
		}
		if id.Temp {
			out[i] = s.putTempLocked(id.Key, r, b)
			continue
		}
		s.putLocked(id.Key, r, b)
		out[i] = r
	}
	return out
}

// Promote moves the temp record under tempID to the real id carried by
// incoming. The temp object is kept: incoming is merged into it, so callers
// holding it see the server data. A live copy follows the record.
func (s *Store) Promote(tempID any, incoming *record.Record) (*record.Record, error) {
	if incoming != nil && s.cfg.Setup != nil {
		incoming = s.cfg.Setup(incoming)
	}
	tempKey, ok := record.Key(tempID)
	if !ok {
		return nil, ErrRecordNotFound
	}
	b := &batch{}

	s.mu.Lock()
	if _, ok := s.temps[tempKey]; !ok {
		s.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	id, ok := s.resolver.RealID(incoming)
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoRealID
	}
	r := s.promoteLocked(tempKey, incoming, id, b)
	s.mu.Unlock()

	s.emit(b.changes...)
	return r, nil
}

func (s *Store) promoteLocked(tempKey string, incoming *record.Record, id record.Identity, b *batch) *record.Record {
	t := s.temps[tempKey]
	var changed bool
	merge.Into(t, incoming, s.mergeOptions(&changed))
	t.MarkTemp(false)

	delete(s.temps, tempKey)
	s.tempOrder = without(s.tempOrder, tempKey)
	s.aliases[tempKey] = id.Key

	if existing, ok := s.keyed[id.Key]; ok && existing != t {
		s.logger.Debug("promotion replaced cached record", "temp_id", tempKey, "id", id.Key)
	}
	s.putLocked(id.Key, t, b)

	if c, ok := s.copies[tempKey]; ok {
		delete(s.copies, tempKey)
		c.Set(id.Field, id.Raw)
		c.MarkTemp(false)
		if _, taken := s.copies[id.Key]; taken {
			s.logger.Warn("promotion replaced the copy of the real record", "temp_id", tempKey, "id", id.Key)
		}
		s.copies[id.Key] = c
		b.add(ChangeCopies, id.Key)
	}
	b.add(ChangePromoted, id.Key)
	return t
}

func (s *Store) putLocked(key string, r *record.Record, b *batch) {
	r.MarkTemp(false)
	if _, ok := s.keyed[key]; !ok {
		s.ids = append(s.ids, key)
	}
	s.keyed[key] = r
	b.add(ChangeAdded, key)
}

func (s *Store) putTempLocked(key string, r *record.Record, b *batch) *record.Record {
	r.MarkTemp(true)
	if _, ok := s.temps[key]; !ok {
		s.tempOrder = append(s.tempOrder, key)
	}
	s.temps[key] = r
	b.add(ChangeAdded, key)
	return r
}

func (s *Store) mergeLocked(dst, src *record.Record, key string, b *batch) *record.Record {
	if dst == src {
		b.add(ChangeUpdated, key)
		return dst
	}
	var changed bool
	merge.Into(dst, src, s.mergeOptions(&changed))
	if changed {
		b.add(ChangeUpdated, key)
	}
	return dst
}

func (s *Store) identify(r *record.Record) (record.Identity, bool) {
	if r == nil {
		s.warn("nil record dropped")
		return record.Identity{}, false
	}
	id, ok := s.resolver.Resolve(r)
	if !ok {
		s.warn("record without identity dropped", "fields", r.Keys())
	}
	return id, ok
}

// pendingTemp returns the temp key of a cached temp record r claims through
// its temp id field.
func (s *Store) pendingTemp(r *record.Record) (string, bool) {
	key, ok := s.resolver.TempID(r)
	if !ok {
		return "", false
	}
	if t, ok := s.temps[key]; ok && t != nil {
		return key, true
	}
	return "", false
}

func (s *Store) lookupLocked(id record.Identity) *record.Record {
	if id.Temp {
		return s.temps[id.Key]
	}
	return s.keyed[id.Key]
}

// keyOf normalizes an id, a temp id or a record into a store key.
func (s *Store) keyOf(v any) (string, bool) {
	if r, ok := v.(*record.Record); ok {
		if id, ok := s.resolver.RealID(r); ok {
			return id.Key, true
		}
		return s.resolver.TempID(r)
	}
	key, ok := record.Key(v)
	if !ok {
		return "", false
	}
	if _, cached := s.keyed[key]; !cached {
		if real, aliased := s.aliases[key]; aliased {
			return real, true
		}
	}
	return key, true
}

// RemoveOne removes the record with the given id, temp id or record.
func (s *Store) RemoveOne(v any) bool {
	return len(s.RemoveMany(v)) == 1
}

// RemoveMany removes records and their working copies. Pagination entries
// are left untouched. It returns the removed keys.
func (s *Store) RemoveMany(items ...any) []string {
	b := &batch{}

	s.mu.Lock()
	var removed []string
	for _, item := range items {
		key, ok := s.keyOf(item)
		if !ok {
			continue
		}
		if s.removeLocked(key, b) {
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()

	s.emit(b.changes...)
	return removed
}

func (s *Store) removeLocked(key string, b *batch) bool {
	switch {
	case s.keyed[key] != nil:
		delete(s.keyed, key)
		s.ids = without(s.ids, key)
		for temp, real := range s.aliases {
			if real == key {
				delete(s.aliases, temp)
			}
		}
	case s.temps[key] != nil:
		delete(s.temps, key)
		s.tempOrder = without(s.tempOrder, key)
	default:
		return false
	}
	if _, ok := s.copies[key]; ok {
		delete(s.copies, key)
		b.add(ChangeCopies, key)
	}
	b.add(ChangeRemoved, key)
	return true
}

// RemoveTemps removes the given temp records, or every temp record when
// called without ids.
func (s *Store) RemoveTemps(ids ...any) []string {
	b := &batch{}

	s.mu.Lock()
	keys := make([]string, 0, len(ids))
	if len(ids) == 0 {
		keys = append(keys, s.tempOrder...)
	}
	for _, id := range ids {
		if key, ok := record.Key(id); ok {
			keys = append(keys, key)
		}
	}
	var removed []string
	for _, key := range keys {
		if _, ok := s.temps[key]; ok && s.removeLocked(key, b) {
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()

	s.emit(b.changes...)
	return removed
}

// Retain removes every real record whose key is not listed. Temp records and
// their copies are untouched.
func (s *Store) Retain(keys ...string) []string {
	keep := make(map[string]bool, len(keys))
	for _, k := range keys {
		keep[k] = true
	}
	b := &batch{}

	s.mu.Lock()
	var removed []string
	for _, key := range append([]string(nil), s.ids...) {
		if !keep[key] && s.removeLocked(key, b) {
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()

	s.emit(b.changes...)
	return removed
}

// ClearOptions selects what Clear drops besides the real records.
type ClearOptions struct {
	Temps  bool
	Copies bool
}

// Clear drops every real record. Temps and copies survive unless requested,
// so unsynced edits are never lost to a list refresh.
func (s *Store) Clear(opts ClearOptions) {
	s.mu.Lock()
	s.ids = nil
	s.keyed = make(map[string]*record.Record)
	s.aliases = make(map[string]string)
	if opts.Temps {
		s.temps = make(map[string]*record.Record)
		s.tempOrder = nil
	}
	if opts.Copies {
		s.copies = make(map[string]*record.Record)
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeCleared})
}

func without(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i:i], keys[i+1:]...)
		}
	}
	return keys
}
