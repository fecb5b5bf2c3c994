package store

import (
	"github.com/goliatone/go-service-store/pagination"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
)

// Get returns the cached record for id, checking real ids first and temp ids
// second. Promoted temp ids still resolve to their record.
func (s *Store) Get(id any) (*record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keyOf(id)
	if !ok {
		return nil, false
	}
	if r, ok := s.keyed[key]; ok {
		return r, true
	}
	r, ok := s.temps[key]
	return r, ok
}

// GetTemp returns the temp record stored under id.
func (s *Store) GetTemp(id any) (*record.Record, bool) {
	key, ok := record.Key(id)
	if !ok {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.temps[key]
	return r, ok
}

// Has reports whether id is cached as a real record. A promoted temp id
// resolves to its real record.
func (s *Store) Has(id any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keyOf(id)
	if !ok {
		return false
	}
	_, ok = s.keyed[key]
	return ok
}

// View calls fn with the record for id while holding the read lock. fn must
// not call back into the store.
func (s *Store) View(id any, fn func(r *record.Record)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keyOf(id)
	if !ok {
		return false
	}
	r := s.keyed[key]
	if r == nil {
		r = s.temps[key]
	}
	if r == nil {
		return false
	}
	fn(r)
	return true
}

// IDs returns the real ids in first-seen order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ids...)
}

// TempIDs returns the temp ids in insertion order.
func (s *Store) TempIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tempOrder...)
}

// Len returns the number of real records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// KeyedByID returns a copy of the real record index.
func (s *Store) KeyedByID() map[string]*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIndex(s.keyed)
}

// TempsByID returns a copy of the temp record index.
func (s *Store) TempsByID() map[string]*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIndex(s.temps)
}

// CopiesByID returns a copy of the working copy index.
func (s *Store) CopiesByID() map[string]*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIndex(s.copies)
}

func copyIndex(m map[string]*record.Record) map[string]*record.Record {
	out := make(map[string]*record.Record, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Find runs params.Query over the cached records. With Paginate set the
// page recorded in the ledger is returned instead, mapped to the current
// records; a page that was never fetched yields an empty result.
func (s *Store) Find(params query.Params) (query.Result, error) {
	parsed, err := query.Parse(params.Query, s.cfg.QueryOptions())
	if err != nil {
		return query.Result{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Paginate {
		return s.pageLocked(params, parsed), nil
	}
	return parsed.Apply(s.candidatesLocked(params)), nil
}

// Count returns the number of cached records matching params.Query.
func (s *Store) Count(params query.Params) (int, error) {
	params.Paginate = false
	res, err := s.Find(params)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

func (s *Store) candidatesLocked(params query.Params) []*record.Record {
	out := make([]*record.Record, 0, len(s.ids)+len(s.tempOrder))
	pick := func(key string, r *record.Record) {
		if params.Copies {
			if c, ok := s.copies[key]; ok {
				r = c
			}
		}
		out = append(out, r)
	}
	for _, key := range s.ids {
		pick(key, s.keyed[key])
	}
	if params.Temps {
		for _, key := range s.tempOrder {
			pick(key, s.temps[key])
		}
	}
	return out
}

func (s *Store) pageLocked(params query.Params, parsed *query.Parsed) query.Result {
	page, data, ok := s.ledger.Lookup(params.QID, params.Query)
	if !ok {
		return query.Result{Data: []*record.Record{}}
	}
	rows := make([]*record.Record, 0, len(page.IDs))
	for _, key := range page.IDs {
		r, ok := s.keyed[key]
		if !ok {
			continue
		}
		if params.Copies {
			if c, ok := s.copies[key]; ok {
				r = c
			}
		}
		rows = append(rows, r)
	}
	return query.Result{
		Total: data.Total,
		Limit: page.Params.Limit,
		Skip:  page.Params.Skip,
		Data:  parsed.Project(rows),
	}
}

// IngestPage upserts a find response and records it in the pagination
// ledger under qid, as one batch.
func (s *Store) IngestPage(qid string, q query.Query, meta pagination.Meta, recs []*record.Record) ([]*record.Record, pagination.Info) {
	recs = s.setup(recs)
	b := &batch{}

	s.mu.Lock()
	out := s.upsertLocked(recs, b)
	ids := make([]string, 0, len(out))
	for _, r := range out {
		if r == nil {
			continue
		}
		if id, ok := s.resolver.RealID(r); ok {
			ids = append(ids, id.Key)
		}
	}
	info := s.ledger.Record(qid, q, meta, ids, s.now())
	s.mu.Unlock()

	s.emit(b.changes...)
	return out, info
}

// Pagination returns a copy of the ledger state.
func (s *Store) Pagination() map[string]*pagination.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.State()
}

// PaginationEntry returns a copy of the ledger entry for qid.
func (s *Store) PaginationEntry(qid string) (pagination.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Entry(qid)
}
